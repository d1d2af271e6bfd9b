package artifacts

import _ "embed"

// Broker defaults

//go:embed global/broker.yaml
var BrokerConfig []byte
