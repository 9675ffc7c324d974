package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/culprit/pkg/cli"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Validate the configured scenario",
	Long: `Validate the configured scenario and print a summary.

The culprit is printed only to stderr so the output can be shared
with players.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		g := &cfg.Game

		styles := cli.NewStyles(cli.DefaultTheme)
		fields := []cli.Field{
			{Label: "mode", Value: modeLabel(g.Mode)},
			{Label: "suspects", Value: fmt.Sprintf("%d", len(g.Suspects))},
			{Label: "evidence", Value: fmt.Sprintf("%d", len(g.Evidence))},
		}
		if g.RoundDuration.Duration() != 0 {
			fields = append(fields, cli.Field{Label: "round", Value: g.RoundDuration.String()})
		}
		fmt.Println(cli.Banner{Styles: styles, Title: "scenario", Fields: fields}.Render())

		for _, s := range g.Suspects {
			fmt.Printf("%s %s\n", styles.Label.Render(s.Name), styles.Help.Render("("+s.ID+")"))
		}
		fmt.Fprintf(os.Stderr, "culprit: %s\n", g.CulpritID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}
