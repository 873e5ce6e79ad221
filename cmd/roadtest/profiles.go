package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect learned device profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known device geometries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		profiles, err := a.store.Profiles.List()
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("no device profiles yet")
			return nil
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("  %-24s %-12s %s", "device", "geometry", "entries")))
		for _, p := range profiles {
			fmt.Printf("  %-24s %-12s %d\n", p.DeviceID, fmt.Sprintf("%dx%d", p.Width, p.Height), len(p.Icons))
		}
		return nil
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show every learned coordinate for a geometry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.store.Profiles.Get(args[0])
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("no profile for %s", args[0])
		}
		names := make([]string, 0, len(p.Icons))
		for name := range p.Icons {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Println(titleStyle.Render(fmt.Sprintf("%s (%dx%d)", p.DeviceID, p.Width, p.Height)))
		fmt.Println(headerStyle.Render(fmt.Sprintf("  %-28s %-12s %-16s %s", "name", "x,y", "source", "last verified")))
		for _, name := range names {
			e := p.Icons[name]
			verified := "never"
			if !e.LastVerified.IsZero() {
				verified = e.LastVerified.Format("2006-01-02 15:04")
			}
			fmt.Printf("  %-28s %-12s %-16s %s\n", name, fmt.Sprintf("%d,%d", e.X, e.Y), e.Source, verified)
		}
		return nil
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete-entry <device-id> <name>",
	Short: "Remove one learned coordinate from a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Profiles.DeleteCoordinate(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("removed %q from %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesDeleteCmd)
	rootCmd.AddCommand(profilesCmd)
}
