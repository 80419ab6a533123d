package cmd

import (
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/observability"
	"github.com/xkilldash9x/deskpilot/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newPrefsCmd() *cobra.Command {
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show the stored preferences and installed libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			return showPrefs(cmd.OutOrStdout(), st)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Update preferences. Values are parsed as JSON when possible",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			updates, err := parseAssignments(args)
			if err != nil {
				return err
			}
			prefs, err := st.WritePreferences(updates)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), "Preferences", prefs)
		},
	}

	prefsCmd.AddCommand(setCmd)
	return prefsCmd
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return nil, err
	}
	return storeFor(cfg, observability.GetLogger())
}

func storeFor(cfg config.Interface, logger *zap.Logger) (*store.Store, error) {
	st, err := store.New(cfg.Store().DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// showPrefs prints both documents, creating defaults on first access.
func showPrefs(out io.Writer, st *store.Store) error {
	prefs, err := st.ReadPreferences()
	if err != nil {
		return err
	}
	libs, err := st.ReadLibraries()
	if err != nil {
		return err
	}
	if err := printJSON(out, "Preferences", prefs); err != nil {
		return err
	}
	return printJSON(out, "Libraries", libs)
}

func printJSON(out io.Writer, title string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s:\n%s\n", title, body)
	return err
}

// parseAssignments turns key=value arguments into a preference update.
func parseAssignments(args []string) (map[string]interface{}, error) {
	updates := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		updates[key] = v
	}
	return updates, nil
}
