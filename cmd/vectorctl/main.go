package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/rpc"
	"github.com/danmuck/vectord/internal/transport/unixsock"
	"github.com/danmuck/vectord/internal/worker"
	"github.com/spf13/cobra"
)

var (
	socketPath  string
	dialTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vectorctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vectorctl",
		Short:         "Talk to a running vectord",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "vectord.sock", "daemon unix socket")
	root.PersistentFlags().DurationVar(&dialTimeout, "timeout", 5*time.Second, "connect timeout")
	root.AddCommand(
		createCmd(), insertCmd(), deleteCmd(), searchCmd(),
		flushCmd(), destroyCmd(), statCmd(), vbaseCmd(),
	)
	return root
}

// withClient dials the daemon for the duration of fn.
func withClient(fn func(c *rpc.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := unixsock.Dial(ctx, socketPath, frame.DefaultLimits())
	if err != nil {
		return err
	}
	c := rpc.NewClient(conn)
	defer c.Close()
	return fn(c)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createCmd() *cobra.Command {
	var dims uint32
	var distance, kind string
	cmd := &cobra.Command{
		Use:   "create <index-id>",
		Short: "Create an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			opts := worker.IndexOptions{Dims: dims, Distance: worker.Distance(distance), Kind: worker.Kind(kind)}
			if err := opts.Validate(); err != nil {
				return err
			}
			return withClient(func(c *rpc.Client) error {
				if err := c.Create(id, opts); err != nil {
					return err
				}
				// create is acknowledged without an outcome
				st, err := c.Stat(id)
				if err != nil {
					return fmt.Errorf("index %d was not created: %w", id, err)
				}
				return printJSON(cmd, st)
			})
		},
	}
	cmd.Flags().Uint32Var(&dims, "dims", 0, "vector dimension")
	cmd.Flags().StringVar(&distance, "distance", string(worker.DistanceL2), "l2, cos or dot")
	cmd.Flags().StringVar(&kind, "kind", string(worker.KindFlat), "index kind")
	_ = cmd.MarkFlagRequired("dims")
	return cmd
}

func insertCmd() *cobra.Command {
	var vector string
	var payload uint64
	cmd := &cobra.Command{
		Use:   "insert <index-id>",
		Short: "Insert one vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			v, err := parseVector(vector)
			if err != nil {
				return err
			}
			return withClient(func(c *rpc.Client) error {
				return c.Insert(id, worker.Insert{Vector: v, Payload: worker.Payload(payload)})
			})
		},
	}
	cmd.Flags().StringVar(&vector, "vector", "", "comma separated components")
	cmd.Flags().Uint64Var(&payload, "payload", 0, "record payload")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func deleteCmd() *cobra.Command {
	var payloads string
	var all bool
	cmd := &cobra.Command{
		Use:   "delete <index-id>",
		Short: "Delete records by payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			match, err := payloadMatcher(payloads, all)
			if err != nil {
				return err
			}
			return withClient(func(c *rpc.Client) error {
				n, err := c.Delete(id, match)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]uint64{"deleted": n})
			})
		},
	}
	cmd.Flags().StringVar(&payloads, "payloads", "", "comma separated payloads to delete")
	cmd.Flags().BoolVar(&all, "all", false, "delete every record")
	return cmd
}

func searchCmd() *cobra.Command {
	var vector, exclude string
	var k uint32
	cmd := &cobra.Command{
		Use:   "search <index-id>",
		Short: "Find the k nearest records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			v, err := parseVector(vector)
			if err != nil {
				return err
			}
			excluded, err := parsePayloads(exclude)
			if err != nil {
				return err
			}
			prefilter := len(excluded) > 0
			check := func(p worker.Payload) bool {
				_, skip := excluded[p]
				return !skip
			}
			return withClient(func(c *rpc.Client) error {
				res, err := c.Search(id, worker.Search{Vector: v, K: k}, prefilter, check)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&vector, "vector", "", "comma separated query components")
	cmd.Flags().Uint32Var(&k, "k", 10, "number of results")
	cmd.Flags().StringVar(&exclude, "exclude", "", "comma separated payloads to filter out")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <index-id>",
		Short: "Persist buffered records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			return withClient(func(c *rpc.Client) error { return c.Flush(id) })
		},
	}
}

func destroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <index-id>...",
		Short: "Drop indexes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]worker.IndexID, 0, len(args))
			for _, a := range args {
				id, err := parseIndexID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return withClient(func(c *rpc.Client) error { return c.Destroy(ids) })
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <index-id>",
		Short: "Show index statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			return withClient(func(c *rpc.Client) error {
				st, err := c.Stat(id)
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func vbaseCmd() *cobra.Command {
	var vector string
	var limit int
	cmd := &cobra.Command{
		Use:   "vbase <index-id>",
		Short: "Stream records nearest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIndexID(args[0])
			if err != nil {
				return err
			}
			v, err := parseVector(vector)
			if err != nil {
				return err
			}
			return withClient(func(c *rpc.Client) error {
				stream, err := c.Vbase(id, v)
				if err != nil {
					return err
				}
				defer stream.Leave()
				out := make([]worker.Neighbor, 0)
				for limit <= 0 || len(out) < limit {
					n, ok, err := stream.Next()
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					out = append(out, n)
				}
				return printJSON(cmd, out)
			})
		},
	}
	cmd.Flags().StringVar(&vector, "vector", "", "comma separated query components")
	cmd.Flags().IntVar(&limit, "limit", 10, "stop after this many records, 0 for all")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}
