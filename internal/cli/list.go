package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/issai/internal/config"
	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/runner"
)

// listEntry is one listed record.
type listEntry struct {
	ID    string              `json:"id"`
	Key   map[string]any      `json:"key"`
	Links map[string][]string `json:"links,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List the store ids and keys of one kind",
		Long: `List every record of a kind with its store id, natural key fields and
links. Use the ids as arguments to export and run.

Example:
  issai list product
  issai list testplan --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, kindArg string, cmd *cobra.Command) error {
	kind, err := entity.ParseKind(kindArg)
	if err != nil {
		return err
	}
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	recs, err := st.List(commandContext(cmd), kind)
	if err != nil {
		return entity.NewStoreError(kind, "list "+string(kind), err)
	}

	schema := entity.SchemaOf(kind)
	entries := make([]listEntry, 0, len(recs))
	t := newTable("ID", "KEY", "LINKS")
	for _, rec := range recs {
		key, _ := entity.ToAny(rec.Key).(map[string]any)
		entries = append(entries, listEntry{ID: rec.ID, Key: key, Links: rec.Links})

		var keyParts, linkParts []string
		for _, f := range schema.KeyFields {
			if v, ok := rec.Key[f]; ok {
				keyParts = append(keyParts, fmt.Sprintf("%s=%v", f, entity.ToAny(v)))
			}
		}
		for _, spec := range schema.Links {
			if ids := rec.Links[spec.Name]; len(ids) > 0 {
				linkParts = append(linkParts, fmt.Sprintf("%s=%s", spec.Name, strings.Join(ids, ",")))
			}
		}
		t.AppendRow([]any{rec.ID, strings.Join(keyParts, " "), strings.Join(linkParts, " ")})
	}

	return opts.formatter(cmd).Success(entries, t.Render()+"\n")
}

// runnerEntry is one registered runner.
type runnerEntry struct {
	Name    string   `json:"name"`
	Builtin string   `json:"builtin"`
	Args    []string `json:"args,omitempty"`
}

// NewRunnersCommand creates the runners command.
func NewRunnersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runners",
		Short: "List the available test runners",
		Long: `List the built-in runners and the aliases configured under
runner.aliases. A test case selects its runner by name.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunners(rootOpts, cmd)
		},
	}
	return cmd
}

func runRunners(opts *RootOptions, cmd *cobra.Command) error {
	registry, err := opts.Config.Registry()
	if err != nil {
		return err
	}

	entries := runnerEntries(opts.Config, registry)
	t := newTable("RUNNER", "BUILTIN", "ARGS")
	for _, e := range entries {
		t.AppendRow([]any{e.Name, e.Builtin, strings.Join(e.Args, " ")})
	}
	return opts.formatter(cmd).Success(entries, t.Render()+"\n")
}

func runnerEntries(cfg *config.Config, registry *runner.Registry) []runnerEntry {
	var entries []runnerEntry
	for _, name := range registry.Names() {
		if alias, ok := cfg.Runner.Aliases[name]; ok {
			entries = append(entries, runnerEntry{Name: name, Builtin: alias.Builtin, Args: alias.Args})
			continue
		}
		entries = append(entries, runnerEntry{Name: name, Builtin: name})
	}
	return entries
}
