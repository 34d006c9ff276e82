package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/twitter/admission/admission/domain"
)

type listQueriesCmd struct {
	state string
	json  bool
}

func (c *listQueriesCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "list_queries",
		Short: "Lists queries, optionally only those in one state",
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.state, "state", "", "only list queries in this state, e.g. QUEUED or RUNNING")
	r.Flags().BoolVar(&c.json, "json", false, "print JSON instead of a table")
	return r
}

func (c *listQueriesCmd) run(ctx context.Context, cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	infos, err := cl.dial().List(ctx, strings.ToUpper(c.state))
	if err != nil {
		return err
	}
	if c.json {
		return cl.printJSON(infos)
	}
	w := tabwriter.NewWriter(cl.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tTASKS\tGROUP\tSUBMITTED\tERROR")
	for _, info := range infos {
		errName := ""
		if info.ErrorCode != nil {
			errName = info.ErrorCode.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", info.ID, info.State, info.RunningTasks,
			info.Definition.Group, info.SubmitTime.Format(time.RFC3339), errName)
	}
	return w.Flush()
}

type getQueryCmd struct{}

func (c *getQueryCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "get_query <id>",
		Short: "Prints one query",
		Args:  cobra.ExactArgs(1),
	}
}

func (c *getQueryCmd) run(ctx context.Context, cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	info, err := cl.dial().Get(ctx, domain.QueryID(args[0]))
	if err != nil {
		return err
	}
	return cl.printJSON(info)
}

type cancelQueryCmd struct{}

func (c *cancelQueryCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel_query <id>...",
		Short: "Cancels queued or running queries",
		Args:  cobra.MinimumNArgs(1),
	}
}

func (c *cancelQueryCmd) run(ctx context.Context, cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	for _, id := range args {
		if err := cl.dial().Cancel(ctx, domain.QueryID(id)); err != nil {
			return errors.Wrapf(err, "cancelling %s", id)
		}
		fmt.Fprintf(cl.out, "Cancelled %s\n", id)
	}
	return nil
}

type submitQueryCmd struct {
	group     string
	requestor string
	file      string
}

func (c *submitQueryCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "submit_query [query text]",
		Short: "Submits a query, reading it from --file or '-' for stdin if no text is given",
		Args:  cobra.MaximumNArgs(1),
	}
	r.Flags().StringVar(&c.group, "group", "", "resource group label")
	r.Flags().StringVar(&c.requestor, "requestor", os.Getenv("USER"), "who is submitting the query")
	r.Flags().StringVar(&c.file, "file", "", "file holding the query text, '-' reads stdin")
	return r
}

func (c *submitQueryCmd) run(ctx context.Context, cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	text, err := c.queryText(cmd, args)
	if err != nil {
		return err
	}
	id, err := cl.dial().Submit(ctx, domain.QueryDefinition{Query: text, Group: c.group, Requestor: c.requestor})
	if err != nil {
		return err
	}
	fmt.Fprintln(cl.out, id)
	return nil
}

func (c *submitQueryCmd) queryText(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 1 && c.file != "":
		return "", errors.New("give either the query text or --file, not both")
	case len(args) == 1:
		return args[0], nil
	case c.file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	case c.file != "":
		b, err := os.ReadFile(c.file)
		return string(b), err
	}
	return "", errors.New("a query must be provided")
}

type clusterStatusCmd struct{}

func (c *clusterStatusCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster_status",
		Short: "Prints the thresholds, the latest task counts and the queue",
		Args:  cobra.NoArgs,
	}
}

func (c *clusterStatusCmd) run(ctx context.Context, cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	status, err := cl.dial().ClusterStatus(ctx)
	if err != nil {
		return err
	}
	return cl.printJSON(status)
}
