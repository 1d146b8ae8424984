package cli

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mem-sentinel/tasks"
)

func NewModulesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the modules run against every image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(v.GetString("catalog"))
			if err != nil {
				return usageError(err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Module", "Timeout", "Description"})
			table.SetAutoWrapText(false)
			for _, m := range catalog.Modules {
				timeout := m.Timeout
				if timeout == "" {
					timeout = "default"
				}
				table.Append([]string{m.Name, timeout, m.Help})
			}
			table.Render()
			return nil
		},
	}
}

func loadCatalog(path string) (tasks.Catalog, error) {
	if path == "" {
		return tasks.DefaultCatalog(), nil
	}
	return tasks.LoadCatalog(afero.NewOsFs(), path)
}
