package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

func (c *cli) identitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identities",
		Aliases: []string{"identity", "id"},
		Short:   "List, show and delete identities",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all known identities",
			Args:  cobra.NoArgs,
			RunE:  c.runList,
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one identity",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runGet,
		},
		c.deleteCmd(),
	)

	return cmd
}

func (c *cli) runList(cmd *cobra.Command, _ []string) error {
	identities, err := c.store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	out := cmd.OutOrStdout()
	if c.asJSON {
		if identities == nil {
			identities = []domain.Identity{}
		}
		return writeJSON(out, identities)
	}

	if len(identities) == 0 {
		fmt.Fprintln(out, "No identities found.")
		return nil
	}

	printIdentities(out, identities)
	return nil
}

func (c *cli) runGet(cmd *cobra.Command, args []string) error {
	identity, err := c.store.GetByID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get identity %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if c.asJSON {
		return writeJSON(out, identity)
	}

	printIdentities(out, []domain.Identity{*identity})
	return nil
}

func (c *cli) deleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an identity",
		Long:  "Deletes the identity. The next sighting of the same person registers a new identity.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			out := cmd.OutOrStdout()

			if !yes && !confirm(bufio.NewReader(cmd.InOrStdin()), out, fmt.Sprintf("Delete identity %s?", id)) {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}

			err := c.store.Delete(cmd.Context(), id)

			_ = c.audit.Log(cmd.Context(), audit.Event{
				EventType:  audit.EventIdentityDeleted,
				IdentityID: id,
				Actor:      "facectl",
			}.Outcome(err))

			if err != nil {
				return fmt.Errorf("failed to delete identity %s: %w", id, err)
			}

			fmt.Fprintf(out, "Deleted identity %s\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func printIdentities(out io.Writer, identities []domain.Identity) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tDETECTIONS\tFIRST SEEN\tLAST SEEN")
	for _, id := range identities {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			id.ID,
			id.DetectionCount,
			id.FirstSeen.Local().Format(timeLayout),
			id.LastSeen.Local().Format(timeLayout),
		)
	}
	_ = w.Flush()
}

func confirm(reader *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	response, _ := reader.ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
