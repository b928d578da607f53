package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/christopherklint97/billr/internal/config"
	"github.com/christopherklint97/billr/internal/rules"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <section.key> <value>",
	Short: "Set a value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var mattersCmd = &cobra.Command{
	Use:   "matters",
	Short: "Manage client matters and billing rules",
}

var mattersImportCmd = &cobra.Command{
	Use:   "import <file.toml>",
	Short: "Add or replace matters from a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runMattersImport,
}

var mattersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List matters and their rules",
	RunE:  runMattersList,
}

var mattersRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a matter",
	Args:  cobra.ExactArgs(1),
	RunE:  runMattersRemove,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)

	mattersCmd.AddCommand(mattersImportCmd)
	mattersCmd.AddCommand(mattersListCmd)
	mattersCmd.AddCommand(mattersRemoveCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Clockify.APIKey != "" {
		cfg.Clockify.APIKey = "********"
	}
	if cfg.AI.APIKey != "" {
		cfg.AI.APIKey = "********"
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	section, key, ok := strings.Cut(args[0], ".")
	if !ok || section == "" || key == "" {
		return fmt.Errorf("expected section.key, got %q", args[0])
	}
	if err := config.SetValue(section, key, parseValue(args[1])); err != nil {
		return err
	}

	// Reject a value that leaves the file unloadable.
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("saved, but the config is now invalid: %w", err)
	}
	fmt.Printf("Set %s.%s\n", section, key)
	return nil
}

// parseValue keeps TOML types for booleans, numbers and integer lists
// such as "1,2,3,4,5".
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		ints := make([]int64, 0, len(parts))
		for _, p := range parts {
			i, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return s
			}
			ints = append(ints, i)
		}
		return ints
	}
	return s
}

func runMattersImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	matters, err := config.LoadMatters(args[0])
	if err != nil {
		return err
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.db.UpsertMatters(ctx, matters); err != nil {
		return err
	}
	fmt.Printf("Imported %d matters.\n", len(matters))
	return nil
}

func runMattersList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	matters, err := e.db.ListMatters(ctx)
	if err != nil {
		return err
	}
	if len(matters) == 0 {
		fmt.Println("No matters. Import some with 'billr matters import <file.toml>'.")
		return nil
	}
	for _, m := range matters {
		fmt.Printf("%s  %s/h\n", headerStyle.Render(m.Name), money(m.Rate))
		for _, r := range m.Rules {
			fmt.Printf("  %s %s\n", dimStyle.Render(r.ID), rules.Describe(r))
		}
	}
	return nil
}

func runMattersRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.db.DeleteMatter(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s.\n", args[0])
	return nil
}
