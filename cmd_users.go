package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Print the seeded users",
	RunE:  runUsers,
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a SQL statement against the users database",
	Long: `Run a SQL statement and print each result row as JSON. Failures are
printed as a single {"error": ...} row, the same shape the chat node sees.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func runUsers(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.store.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFIRSTNAME\tSURNAME\tEMAIL")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Firstname, u.Surname, u.Email)
	}
	return w.Flush()
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, row := range a.store.RunQuery(cmd.Context(), args[0]) {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
