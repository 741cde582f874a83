// cmd/stratactl is the administrative CLI for a Strata database directory,
// built with Cobra.
//
// Usage:
//
//	stratactl checkpoint              --path ./strata.db
//	stratactl compact --mode full     --path ./strata.db
//	stratactl stats                   --path ./strata.db
//	stratactl put <run> <key> <value> --path ./strata.db
//	stratactl get <run> <key>         --path ./strata.db
//	stratactl delete <run> <key>      --path ./strata.db
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
	"github.com/stratadb/strata/strata"
)

var (
	dbPath         string
	durabilityFlag string
	codecFlag      string
)

func main() {
	root := &cobra.Command{
		Use:   "stratactl",
		Short: "Administrative CLI for a Strata database directory",
	}

	root.PersistentFlags().StringVarP(&dbPath, "path", "p", "./strata.db", "database directory")
	root.PersistentFlags().StringVar(&durabilityFlag, "durability", "strict", "durability policy: in-memory, buffered, strict")
	root.PersistentFlags().StringVar(&codecFlag, "codec", "", "codec id (default \"identity\")")

	root.AddCommand(checkpointCmd(), compactCmd(), statsCmd(), putCmd(), getCmd(), deleteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openEngine() (*strata.Engine, error) {
	var durability strata.Durability
	switch durabilityFlag {
	case "in-memory", "inmemory":
		durability = strata.InMemory
	case "buffered":
		durability = strata.Buffered
	case "strict", "":
		durability = strata.Strict
	default:
		return nil, fmt.Errorf("unknown durability %q", durabilityFlag)
	}
	return strata.Open(dbPath, strata.Config{
		Durability: durability,
		CodecID:    codecFlag,
	})
}

// ─── checkpoint ───────────────────────────────────────────────────────────────

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Trigger a checkpoint and print the resulting snapshot info",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			info, err := e.Checkpoint(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(info)
			return nil
		},
	}
}

// ─── compact ──────────────────────────────────────────────────────────────────

func compactCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Reclaim WAL segments made obsolete by the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			var m strata.CompactMode
			switch mode {
			case "full":
				m = strata.CompactFull
			case "wal-only", "":
				m = strata.CompactWALOnly
			default:
				return fmt.Errorf("unknown compact mode %q", mode)
			}

			info, err := e.Compact(m)
			if err != nil {
				return err
			}
			prettyPrint(info)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "wal-only", "compact mode: wal-only, full")
	return cmd
}

// ─── stats ────────────────────────────────────────────────────────────────────

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the engine's current administrative state",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			prettyPrint(e.Stats())
			return nil
		},
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <run> <key> <value>",
		Short: "Commit a single key-value put within run",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			run, key, err := parseRunAndKey(args[0], args[1])
			if err != nil {
				return err
			}

			tx, err := e.Begin(run)
			if err != nil {
				return err
			}
			if err := tx.Put(key, value.String(args[2])); err != nil {
				tx.Abort()
				return err
			}
			commitVersion, err := tx.Commit()
			if err != nil {
				return err
			}
			fmt.Printf("committed at version %d\n", commitVersion)
			return nil
		},
	}
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run> <key>",
		Short: "Read a single key within run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			run, key, err := parseRunAndKey(args[0], args[1])
			if err != nil {
				return err
			}

			tx, err := e.Begin(run)
			if err != nil {
				return err
			}
			defer tx.Abort()

			v, ok, err := tx.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key %q not found\n", args[1])
				return nil
			}
			fmt.Println(v.String())
			return nil
		},
	}
}

// ─── delete ───────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run> <key>",
		Short: "Delete a single key within run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			run, key, err := parseRunAndKey(args[0], args[1])
			if err != nil {
				return err
			}

			tx, err := e.Begin(run)
			if err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				tx.Abort()
				return err
			}
			if _, err := tx.Commit(); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[1])
			return nil
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseRunAndKey builds a run-scoped KV key from the CLI's flat
// <run> <key> arguments, under the KV primitive's tag and an empty
// namespace — stratactl is an administrative smoke-test surface, not a
// facade, so it addresses the store directly rather than through one of
// the seven primitives.
func parseRunAndKey(runStr, keyStr string) (addressing.RunID, addressing.Key, error) {
	run, err := addressing.ParseRunID(runStr)
	if err != nil {
		return addressing.RunID{}, addressing.Key{}, err
	}
	key := addressing.New(run, nil, addressing.TypeKV, []byte(keyStr))
	return run, key, nil
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
