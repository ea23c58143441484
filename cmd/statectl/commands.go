package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/predicate"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/ports/channel"
)

func createCmd() *cobra.Command {
	var (
		lifetime string
		scope    string
		maxSize  int
		persist  bool
		label    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a state and print its name",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, e *env, _ []string) error {
			if label != "" {
				h, err := e.proc.CreateWellKnown(cmd.Context(), label)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h.Name)
				return nil
			}

			opts := channel.CreateOptions{MaxSize: maxSize, PersistData: persist}
			var err error
			if opts.Lifetime, err = parseLifetime(lifetime); err != nil {
				return err
			}
			if opts.Scope, err = parseScope(scope); err != nil {
				return err
			}
			h, err := e.proc.Create(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.Name)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&lifetime, "lifetime", "temporary", "permanent, persistent or temporary")
	f.StringVar(&scope, "scope", "machine", "system, session, user, machine or physical-machine")
	f.IntVar(&maxSize, "max-size", 0, "maximum payload size in bytes (default 4096)")
	f.BoolVar(&persist, "persist", false, "keep data across restarts")
	f.StringVar(&label, "well-known", "", "create the well-known state for this label instead")
	return cmd
}

func getCmd() *cobra.Command {
	var withStamp bool
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print the data of a state",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			snap, err := e.proc.Read(cmd.Context(), h)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if withStamp {
				fmt.Fprintf(out, "%d\t", snap.Stamp)
			}
			fmt.Fprintln(out, string(snap.Data))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&withStamp, "stamp", false, "prefix the output with the change stamp")
	return cmd
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [data]",
		Short: "Replace the data of a state; reads stdin without data argument",
		Args:  cobra.RangeArgs(1, 2),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			data, err := payload(cmd, args)
			if err != nil {
				return err
			}
			stamp, err := e.proc.Write(cmd.Context(), h, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stamp)
			return nil
		}),
	}
}

func updateCmd() *cobra.Command {
	var expected uint64
	cmd := &cobra.Command{
		Use:   "update <name> [data] --expect <stamp>",
		Short: "Write only if the state is still at the expected stamp",
		Args:  cobra.RangeArgs(1, 2),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			data, err := payload(cmd, args)
			if err != nil {
				return err
			}
			stamp, ok, err := e.proc.Update(cmd.Context(), h, data, state.Stamp(expected))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s moved past stamp %d: %w", h, expected, state.ErrConflict)
			}
			fmt.Fprintln(cmd.OutOrStdout(), stamp)
			return nil
		}),
	}
	cmd.Flags().Uint64Var(&expected, "expect", 0, "expected current stamp")
	_ = cmd.MarkFlagRequired("expect")
	return cmd
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Describe a state",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			info, err := e.proc.Info(cmd.Context(), h)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:        %s\n", h.Name)
			fmt.Fprintf(out, "ownership:   %s\n", h.Ownership)
			if d, err := h.Name.Descriptor(); err == nil {
				fmt.Fprintf(out, "lifetime:    %s\n", d.Lifetime)
				fmt.Fprintf(out, "scope:       %s\n", d.Scope)
			}
			fmt.Fprintf(out, "exists:      %t\n", info.Exists)
			if info.Exists {
				fmt.Fprintf(out, "stamp:       %d\n", info.Stamp)
				fmt.Fprintf(out, "size:        %d\n", info.Size)
				fmt.Fprintf(out, "subscribers: %t\n", info.SubscribersPresent)
			}
			return nil
		}),
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a state this tool may own",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			return e.proc.Delete(cmd.Context(), h)
		}),
	}
}

func watchCmd() *cobra.Command {
	var (
		last  bool
		count int
	)
	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Print every change until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			seen := 0
			opts := []notify.SubscribeOption{notify.WithName("statectl.watch")}
			if last {
				opts = append(opts, notify.WithDeliverPolicy(notify.DeliverLast))
			}
			sub, err := e.proc.Subscribe(cmd.Context(), h, notify.ListenerFunc(func(d *notify.Delivery) error {
				fmt.Fprintf(out, "%d\t%s\n", d.Stamp(), d.Data())
				seen++
				if count > 0 && seen >= count {
					close(done)
					return notify.ErrStop
				}
				return nil
			}), opts...)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Unsubscribe(cmd.Context()) }()

			select {
			case <-done:
			case <-cmd.Context().Done():
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&last, "last", false, "print the current value first")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after n changes")
	return cmd
}

func waitCmd() *cobra.Command {
	var (
		timeout  time.Duration
		baseline int64
	)
	cmd := &cobra.Command{
		Use:   "wait <name>",
		Short: "Block until the state changes and print the new stamp",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			from := state.Stamp(baseline)
			if baseline < 0 {
				info, err := e.proc.Info(cmd.Context(), h)
				if err != nil {
					return err
				}
				if !info.Exists {
					return fmt.Errorf("%s: %w", h, state.ErrNotFound)
				}
				from = info.Stamp
			}

			var stamp state.Stamp
			if timeout > 0 {
				stamp, err = e.proc.Registry().WaitForChange(h.Name, from, timeout)
			} else {
				stamp, err = e.proc.Registry().WaitForChangeContext(cmd.Context(), h.Name, from)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stamp)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default: wait until interrupted)")
	cmd.Flags().Int64Var(&baseline, "from", -1, "baseline stamp (default: the current one)")
	return cmd
}

func untilCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "until <name> <expression>",
		Short: "Block until an expression over the state holds",
		Long: `Block until an expression over the state holds and print its result.

The expression sees data, text, json, stamp and size, for example:

  statectl until wk:build 'json.phase == "done"'
  statectl until 0x1a2b3c4d5e6f7081 'stamp >= 10 && size > 0'`,
		Args: cobra.ExactArgs(2),
		RunE: run(func(cmd *cobra.Command, e *env, args []string) error {
			h, err := resolve(args[0])
			if err != nil {
				return err
			}
			c, err := predicate.Compile(args[1])
			if err != nil {
				return err
			}

			var v any
			if timeout > 0 {
				v, err = notify.WaitUntilBoxed(e.proc.Registry(), h.Name, c, timeout)
			} else {
				v, err = notify.WaitUntilBoxedContext(cmd.Context(), e.proc.Registry(), h.Name, c)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default: wait until interrupted)")
	return cmd
}

func payload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 2 {
		return []byte(args[1]), nil
	}
	in := cmd.InOrStdin()
	if in == os.Stdin {
		if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return nil, fmt.Errorf("no data argument and stdin is a terminal")
		}
	}
	data, err := io.ReadAll(io.LimitReader(in, state.MaxStateSize+1))
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSuffix(string(data), "\n")), nil
}

func parseLifetime(s string) (state.Lifetime, error) {
	switch strings.ToLower(s) {
	case "permanent":
		return state.LifetimePermanent, nil
	case "persistent":
		return state.LifetimePersistent, nil
	case "temporary":
		return state.LifetimeTemporary, nil
	default:
		return 0, fmt.Errorf("unknown lifetime %q", s)
	}
}

func parseScope(s string) (state.Scope, error) {
	switch strings.ToLower(s) {
	case "system":
		return state.ScopeSystem, nil
	case "session":
		return state.ScopeSession, nil
	case "user":
		return state.ScopeUser, nil
	case "machine":
		return state.ScopeMachine, nil
	case "physical-machine":
		return state.ScopePhysicalMachine, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}
