// Package cli implements the admissioncl command line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/admission/admission/client"
)

const defaultTimeout = 30 * time.Second

// CLIClient runs the command line client.
type CLIClient interface {
	Exec() error
}

type simpleCLIClient struct {
	rootCmd *cobra.Command

	addr     string
	timeout  time.Duration
	logLevel string
	out      io.Writer

	newClient func(addr string) *client.Client
	client    *client.Client
}

func (c *simpleCLIClient) Exec() error {
	return c.rootCmd.Execute()
}

// NewCLIClient creates the client with every command registered.
func NewCLIClient() CLIClient {
	return newCLIClient(os.Stdout, func(addr string) *client.Client { return client.NewClient(addr, nil) })
}

func newCLIClient(out io.Writer, newClient func(string) *client.Client) *simpleCLIClient {
	c := &simpleCLIClient{out: out, newClient: newClient}
	c.rootCmd = &cobra.Command{
		Use:           "admissioncl",
		Short:         "admissioncl is a command-line client to the admission controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.rootCmd.PersistentFlags().StringVar(&c.addr, "addr", client.DefaultServerAddr, "admission server address")
	c.rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", defaultTimeout, "timeout of each command")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "warn", "error|warn|info|debug level and above are logged")
	c.rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		level, err := log.ParseLevel(c.logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	}
	c.rootCmd.SetOut(out)

	c.addCmd(&listQueriesCmd{})
	c.addCmd(&getQueryCmd{})
	c.addCmd(&cancelQueryCmd{})
	c.addCmd(&submitQueryCmd{})
	c.addCmd(&clusterStatusCmd{})
	return c
}

func (c *simpleCLIClient) dial() *client.Client {
	if c.client == nil {
		c.client = c.newClient(c.addr)
	}
	return c.client
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		return cmd.run(ctx, c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

func (c *simpleCLIClient) printJSON(v interface{}) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(bytes))
	return err
}

type command interface {
	registerFlags() *cobra.Command
	run(ctx context.Context, cl *simpleCLIClient, cmd *cobra.Command, args []string) error
}
