package cli

// -----------------------------------------------------------------------------
// hosts.go – host manager CLI (colour books, load/save, banning)
// -----------------------------------------------------------------------------
// Commands after RegisterHosts(root):
//   hosts list   <color>
//   hosts insert <color> <addr>
//   hosts ban    <addr>
//   hosts save   <path>
//   hosts load   <path>
// -----------------------------------------------------------------------------

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nighthawk24/hostmesh/p2p"
)

func hostsInit(cmd *cobra.Command, _ []string) error {
	return netInit(cmd, nil)
}

func hostsNode(cmd *cobra.Command) (*p2p.Manager, error) {
	netMu.RLock()
	n := netNode
	netMu.RUnlock()
	if n == nil {
		return nil, fmt.Errorf("network not running")
	}
	return n.Hosts, nil
}

func hostsList(cmd *cobra.Command, args []string) error {
	mgr, err := hostsNode(cmd)
	if err != nil {
		return err
	}
	color, err := p2p.ParseColor(args[0])
	if err != nil {
		return err
	}
	for _, e := range mgr.Container().FetchAll(color) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", e.Addr, e.LastSeen)
	}
	return nil
}

func hostsInsert(cmd *cobra.Command, args []string) error {
	mgr, err := hostsNode(cmd)
	if err != nil {
		return err
	}
	color, err := p2p.ParseColor(args[0])
	if err != nil {
		return err
	}
	addr, err := p2p.ParseAddress(args[1])
	if err != nil {
		return err
	}
	n := mgr.Insert(color, []p2p.HostEntry{{Addr: addr, LastSeen: time.Now().Unix()}})
	fmt.Fprintf(cmd.OutOrStdout(), "inserted %d\n", n)
	return nil
}

func hostsBan(cmd *cobra.Command, args []string) error {
	mgr, err := hostsNode(cmd)
	if err != nil {
		return err
	}
	addr, err := p2p.ParseAddress(args[0])
	if err != nil {
		return err
	}
	return mgr.MoveHost(addr, time.Now().Unix(), p2p.Black)
}

func hostsSave(cmd *cobra.Command, args []string) error {
	mgr, err := hostsNode(cmd)
	if err != nil {
		return err
	}
	return mgr.Container().SaveAll(args[0])
}

func hostsLoad(cmd *cobra.Command, args []string) error {
	mgr, err := hostsNode(cmd)
	if err != nil {
		return err
	}
	return mgr.Container().LoadAll(args[0])
}

var hostsRootCmd = &cobra.Command{Use: "hosts", Short: "Host manager (address books)", PersistentPreRunE: hostsInit}

var hostsListCmd = &cobra.Command{Use: "list <color>", Short: "List addresses in a colour book", Args: cobra.ExactArgs(1), RunE: hostsList}
var hostsInsertCmd = &cobra.Command{Use: "insert <color> <addr>", Short: "Insert an address into a colour book", Args: cobra.ExactArgs(2), RunE: hostsInsert}
var hostsBanCmd = &cobra.Command{Use: "ban <addr>", Short: "Move an address to the black book", Args: cobra.ExactArgs(1), RunE: hostsBan}
var hostsSaveCmd = &cobra.Command{Use: "save <path>", Short: "Persist address books to a TSV file", Args: cobra.ExactArgs(1), RunE: hostsSave}
var hostsLoadCmd = &cobra.Command{Use: "load <path>", Short: "Load address books from a TSV file", Args: cobra.ExactArgs(1), RunE: hostsLoad}

func init() {
	hostsRootCmd.AddCommand(hostsListCmd, hostsInsertCmd, hostsBanCmd, hostsSaveCmd, hostsLoadCmd)
}

// HostsCmd exposes host manager commands.
var HostsCmd = hostsRootCmd

// RegisterHosts adds the host manager commands to the root CLI.
func RegisterHosts(root *cobra.Command) { root.AddCommand(HostsCmd) }
