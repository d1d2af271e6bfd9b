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

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tfsbroker/internal/client"
	"tfsbroker/internal/protocol"
)

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Create, remove and list boxes",
	Long: `Box management commands. Each command opens one session with the broker.

Examples:
  tfsbroker manager create /tmp/reg news
  tfsbroker manager remove /tmp/reg news
  tfsbroker manager list /tmp/reg`,
}

var managerCreateCmd = &cobra.Command{
	Use:   "create <register_pipe> <box>",
	Short: "Create a box",
	Args:  cobra.ExactArgs(2),
	RunE:  runManagerCreate,
}

var managerRemoveCmd = &cobra.Command{
	Use:   "remove <register_pipe> <box>",
	Short: "Remove a box and its messages",
	Args:  cobra.ExactArgs(2),
	RunE:  runManagerRemove,
}

var managerListCmd = &cobra.Command{
	Use:   "list <register_pipe>",
	Short: "List boxes",
	Long:  `Lists boxes sorted by name as "name size publishers subscribers".`,
	Args:  cobra.ExactArgs(1),
	RunE:  runManagerList,
}

var managerPipe string

func init() {
	managerCmd.PersistentFlags().StringVar(&managerPipe, "pipe", "", "Session pipe path (default: unique name in the temp directory)")
	managerCmd.AddCommand(managerCreateCmd)
	managerCmd.AddCommand(managerRemoveCmd)
	managerCmd.AddCommand(managerListCmd)
	rootCmd.AddCommand(managerCmd)
}

func runManagerCreate(cmd *cobra.Command, args []string) error {
	err := client.New(args[0], managerPipe).CreateBox(cmd.Context(), args[1])
	return reportManagerResult(cmd, err)
}

func runManagerRemove(cmd *cobra.Command, args []string) error {
	err := client.New(args[0], managerPipe).RemoveBox(cmd.Context(), args[1])
	return reportManagerResult(cmd, err)
}

// reportManagerResult prints OK, or ERR with the broker's reason.
func reportManagerResult(cmd *cobra.Command, err error) error {
	var replyErr *client.ReplyError
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	case errors.As(err, &replyErr):
		fmt.Fprintf(cmd.ErrOrStderr(), "ERR %s\n", replyErr.Message)
		return &ExitError{Code: 1}
	default:
		return err
	}
}

func runManagerList(cmd *cobra.Command, args []string) error {
	entries, err := client.New(args[0], managerPipe).ListBoxes(cmd.Context())
	if err != nil {
		return err
	}
	printBoxes(cmd, entries)
	return nil
}

func printBoxes(cmd *cobra.Command, entries []protocol.ListEntry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "NO BOXES FOUND")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s %d %d %d\n", e.BoxName, e.Size, e.Publishers, e.Subscribers)
	}
}
