package cmd

import (
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func conversationsCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}
	cmd.PersistentFlags().StringVar(&username, "user", "", "username (default: OS user)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			rt := mustRuntime()
			defer rt.Close()
			u := resolveUser(username)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUPDATED\tMSGS\tMODEL\tTITLE")
			for _, e := range rt.store.List(u) {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.UpdatedAt.Format("2006-01-02 15:04"), e.MessageCount, e.Model, e.Title)
			}
			w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one conversation",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt := mustRuntime()
			defer rt.Close()

			conv, err := rt.store.Get(resolveUser(username), args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			for _, m := range conv.Messages {
				fmt.Printf("--- %s (%s)\n%s\n", m.Role, m.CreatedAt.Format("15:04:05"), m.Content)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation (workspace files are kept)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt := mustRuntime()
			defer rt.Close()

			if err := rt.store.Delete(resolveUser(username), args[0]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println("deleted", args[0])
		},
	})

	return cmd
}

func mustRuntime() *runtime {
	setupLogging()
	rt, err := buildStores()
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	return rt
}

func resolveUser(flag string) string {
	if flag != "" {
		return flag
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "local"
}
