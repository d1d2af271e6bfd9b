// Copyright 2024 TFSBroker Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "strings"

// MaxFileName bounds a directory entry name, terminator included.
const MaxFileName = 40

// ValidPathname reports whether name is an absolute TFS path.
// Only the flat root namespace exists, so any further '/' is part of the name.
func ValidPathname(name string) bool {
	return len(name) > 1 && name[0] == '/'
}

// EntryName strips the leading '/' from a TFS path.
func EntryName(path string) string {
	return strings.TrimPrefix(path, "/")
}

// BoxPath returns the TFS path backing a box.
func BoxPath(box string) string {
	return "/" + box
}
