package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-iosched"
	"github.com/ehrlich-b/go-iosched/internal/elevator"
)

var elevatorsCmd = &cobra.Command{
	Use:   "elevators",
	Short: "List registered elevators and their tunables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listElevators(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(elevatorsCmd)
}

func listElevators(w io.Writer) error {
	for _, name := range elevator.Names() {
		q, err := iosched.NewQueue(name, 1, nil)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unavailable: %v)\n", name, err)
			continue
		}

		marker := " "
		if name == iosched.DefaultElevator {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, name)

		for _, attr := range q.AttrNames() {
			value, err := q.ReadAttr(attr)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "    %s = %s\n", attr, strings.TrimSpace(value))
		}
		q.Close()
	}
	return nil
}
