package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	cache "github.com/mxcd/go-diskcache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNotFound = errors.New("key not found")

func newGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the data stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.Close()

			data, ok := s.cache.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}
			_, err = io.WriteString(cmd.OutOrStdout(), data)
			return err
		},
	}
}

func newSetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> [data]",
		Short: "Store data for a key, reading it from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data string
			if len(args) == 2 {
				data = args[1]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				data = string(raw)
			}

			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.cache.Set(args[0], data)
		},
	}
}

func newRemoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove keys",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.Close()

			var missing []error
			for _, key := range args {
				if !s.cache.Remove(key) {
					missing = append(missing, fmt.Errorf("%w: %s", errNotFound, key))
				}
			}
			return errors.Join(missing...)
		},
	}
}

func newClearCmd(v *viper.Viper) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry of the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.Close()

			if quiet {
				s.cache.Clear(cache.WithoutNotify())
			} else {
				s.cache.Clear()
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not relay the clear event")
	return cmd
}

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List keys from least to most recently used",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			for _, entry := range s.cache.Entries() {
				fmt.Fprintf(out, "%d\t%s\n", entry.Size, entry.Key)
			}
			return nil
		},
	}
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show size and capacity of the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			defer s.Close()

			stats := s.cache.Stats()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "directory\t%s\n", s.cache.StorageDirectory())
			fmt.Fprintf(w, "entries\t%d\n", stats.Entries)
			fmt.Fprintf(w, "size\t%d\n", stats.Size)
			fmt.Fprintf(w, "capacity\t%d\n", stats.Capacity)
			return w.Flush()
		},
	}
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print cache events relayed over redis until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v.GetString("redis-addr") == "" {
				return errors.New("watch requires --redis-addr")
			}

			logger := newLogger(cmd, v)
			relay, err := newRelay(v, &logger)
			if err != nil {
				return err
			}
			defer relay.Close()

			events := make(chan cache.RelayedEvent, 64)
			relay.OnEvent(func(event cache.RelayedEvent) {
				select {
				case events <- event:
				default:
					logger.Warn().Str("key", event.Event.Key).Msg("dropping relayed event, output is too slow")
				}
			})

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event := <-events:
					fmt.Fprintf(out, "%s\t%s\t%s\n", event.Namespace, event.Event.Type, event.Event.Key)
				}
			}
		},
	}
}
