package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zmcp/xrm-webapi/internal/debug"
	"github.com/zmcp/xrm-webapi/internal/guid"
	"github.com/zmcp/xrm-webapi/internal/models"
)

func newRetrieveCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "retrieve <entity-set> <id>",
		Short: "Retrieve one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			entity, err := app.client.Retrieve(cmd.Context(), args[0], id, query, app.options)
			if err != nil {
				return err
			}
			return app.printer.Print(entity)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Query options, e.g. $select=name")
	return cmd
}

func newRetrieveMultipleCmd() *cobra.Command {
	var (
		query string
		all   bool
		next  string
	)

	cmd := &cobra.Command{
		Use:   "retrieve-multiple [entity-set]",
		Short: "Query a collection",
		Long: `Query a collection. Without --all only the first page is returned; its
@odata.nextLink can be passed to --next to fetch the following page.`,
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if next != "" {
				page, err := app.client.RetrieveMultipleNextPage(ctx, next, app.options)
				if err != nil {
					return err
				}
				return app.printer.Print(page)
			}

			if len(args) == 0 {
				return fmt.Errorf("entity set is required unless --next is given")
			}

			if all {
				entities, err := app.client.RetrieveAll(ctx, args[0], query, app.options)
				if err != nil {
					return err
				}
				app.logger.Debug("retrieved all pages", "records", len(entities))
				return app.printer.Print(entities)
			}

			page, err := app.client.RetrieveMultiple(ctx, args[0], query, app.options)
			if err != nil {
				return err
			}
			if page.NextLink != "" {
				app.logger.Info("more records available", "next", debug.MaskURL(page.NextLink))
			}
			return app.printer.Print(page)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Query options, e.g. $filter=statecode eq 0&$top=10")
	cmd.Flags().BoolVar(&all, "all", false, "Follow @odata.nextLink until every page is read")
	cmd.Flags().StringVar(&next, "next", "", "Fetch the page at this @odata.nextLink")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var (
		data      string
		returnRep bool
		selectQ   string
	)

	cmd := &cobra.Command{
		Use:   "create <entity-set>",
		Short: "Create a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := readJSON(data)
			if err != nil {
				return err
			}

			if returnRep {
				created, err := app.client.CreateWithReturnData(cmd.Context(), args[0], entity, selectQ, app.options)
				if err != nil {
					return err
				}
				return app.printer.Print(created)
			}

			created, err := app.client.Create(cmd.Context(), args[0], entity, app.options)
			if err != nil {
				return err
			}
			return app.printer.Print(created)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Record JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&returnRep, "return", false, "Return the created record")
	cmd.Flags().StringVar(&selectQ, "select", "", "Query for the returned record, e.g. $select=name")
	cmd.MarkFlagRequired("data")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var (
		data      string
		returnRep bool
		selectQ   string
	)

	cmd := &cobra.Command{
		Use:   "update <entity-set> <id>",
		Short: "Update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			entity, err := readJSON(data)
			if err != nil {
				return err
			}

			if returnRep {
				updated, err := app.client.UpdateWithReturnData(cmd.Context(), args[0], id, entity, selectQ, app.options)
				if err != nil {
					return err
				}
				return app.printer.Print(updated)
			}

			if err := app.client.Update(cmd.Context(), args[0], id, entity, app.options); err != nil {
				return err
			}
			app.printer.Message("Updated %s(%s)", args[0], id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Changed attributes as JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&returnRep, "return", false, "Return the updated record")
	cmd.Flags().StringVar(&selectQ, "select", "", "Query for the returned record, e.g. $select=name")
	cmd.MarkFlagRequired("data")
	return cmd
}

func newUpdatePropertyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-property <entity-set> <id> <attribute> <json-value>",
		Short: "Set a single attribute",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			value, err := readJSON(args[3])
			if err != nil {
				return err
			}

			attribute := models.Attribute{Name: args[2], Value: value}
			if err := app.client.UpdateProperty(cmd.Context(), args[0], id, attribute, app.options); err != nil {
				return err
			}
			app.printer.Message("Updated %s(%s)/%s", args[0], id, args[2])
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity-set> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			if err := app.client.Delete(cmd.Context(), args[0], id); err != nil {
				return err
			}
			app.printer.Message("Deleted %s(%s)", args[0], id)
			return nil
		},
	}
}

func newDeletePropertyCmd() *cobra.Command {
	var navigation bool

	cmd := &cobra.Command{
		Use:   "delete-property <entity-set> <id> <attribute>",
		Short: "Clear an attribute or a single-valued navigation property",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			if err := app.client.DeleteProperty(cmd.Context(), args[0], id, args[2], navigation); err != nil {
				return err
			}
			app.printer.Message("Cleared %s(%s)/%s", args[0], id, args[2])
			return nil
		},
	}

	cmd.Flags().BoolVar(&navigation, "navigation", false, "The attribute is a navigation property ($ref is removed)")
	return cmd
}

func newAssociateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "associate <entity-set> <id> <relationship> <related-entity-set> <related-id>",
		Short: "Link two records through a relationship",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}
			relatedID, err := parseID("related id", args[4])
			if err != nil {
				return err
			}
			if err := app.client.Associate(cmd.Context(), args[0], id, args[2], args[3], relatedID, app.options); err != nil {
				return err
			}
			app.printer.Message("Associated %s(%s) with %s(%s) via %s", args[0], id, args[3], relatedID, args[2])
			return nil
		},
	}
}

func newDisassociateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disassociate <entity-set> <id> <property> [related-id]",
		Short: "Remove a relationship link",
		Long: `Remove a relationship link. Give related-id for collection-valued
navigation properties; omit it for single-valued ones.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[1])
			if err != nil {
				return err
			}

			var relatedID *guid.Guid
			if len(args) == 4 {
				rid, err := parseID("related id", args[3])
				if err != nil {
					return err
				}
				relatedID = &rid
			}

			if err := app.client.Disassociate(cmd.Context(), args[0], id, args[2], relatedID); err != nil {
				return err
			}
			app.printer.Message("Disassociated %s(%s)/%s", args[0], id, args[2])
			return nil
		},
	}
}

// boundTarget holds the --entity-set/--id pair shared by action and function
type boundTarget struct {
	entitySet string
	id        string
}

func (b *boundTarget) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.entitySet, "entity-set", "", "Bind to a record in this entity set")
	cmd.Flags().StringVar(&b.id, "id", "", "Id of the record to bind to")
}

func (b *boundTarget) resolve() (bool, guid.Guid, error) {
	if b.entitySet == "" && b.id == "" {
		return false, guid.Guid{}, nil
	}
	if b.entitySet == "" || b.id == "" {
		return false, guid.Guid{}, fmt.Errorf("--entity-set and --id must be given together")
	}
	id, err := parseID("id", b.id)
	if err != nil {
		return false, guid.Guid{}, err
	}
	return true, id, nil
}

func printResult(result json.RawMessage) error {
	if result == nil {
		app.printer.Message("Completed (no content)")
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(result, &v); err != nil {
		return err
	}
	return app.printer.Print(v)
}

func newActionCmd() *cobra.Command {
	var (
		target boundTarget
		data   string
	)

	cmd := &cobra.Command{
		Use:   "action <name>",
		Short: "Invoke an action",
		Long: `Invoke an action. Bound actions are namespaced with Microsoft.Dynamics.CRM
automatically; unbound names are sent as given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, id, err := target.resolve()
			if err != nil {
				return err
			}

			var inputs interface{}
			if data != "" {
				if inputs, err = readJSON(data); err != nil {
					return err
				}
			}

			var result json.RawMessage
			if bound {
				result, err = app.client.BoundAction(cmd.Context(), target.entitySet, id, args[0], inputs, app.options)
			} else {
				result, err = app.client.UnboundAction(cmd.Context(), args[0], inputs, app.options)
			}
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}

	target.register(cmd)
	cmd.Flags().StringVarP(&data, "data", "d", "", "Action parameters as JSON, @file or - for stdin")
	return cmd
}

func newFunctionCmd() *cobra.Command {
	var (
		target boundTarget
		inputs []string
	)

	cmd := &cobra.Command{
		Use:   "function <name>",
		Short: "Invoke a function",
		Long: `Invoke a function. Each --input is name=value, or name=value@alias to
pass the value as a parameter alias in the query string.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, id, err := target.resolve()
			if err != nil {
				return err
			}

			var parsed []models.FunctionInput
			for _, raw := range inputs {
				input, err := parseFunctionInput(raw)
				if err != nil {
					return err
				}
				parsed = append(parsed, input)
			}

			var result json.RawMessage
			if bound {
				result, err = app.client.BoundFunction(cmd.Context(), target.entitySet, id, args[0], parsed, app.options)
			} else {
				result, err = app.client.UnboundFunction(cmd.Context(), args[0], parsed, app.options)
			}
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}

	target.register(cmd)
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Function parameter name=value[@alias], repeatable")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		changeSets  []string
		gets        []string
		batchID     string
		changeSetID string
		raw         bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Send writes and reads as one $batch request",
		Long: `Send writes and reads as one $batch request. The writes form one
changeset and succeed or fail together.

  --changeset 'POST:accounts:{"name":"A"}'
  --changeset 'PATCH:accounts(<id>):@update.json'
  --get 'contacts?$select=fullname&$top=5'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := newBatchRequest(batchID, changeSetID, changeSets, gets)
			if err != nil {
				return err
			}
			app.logger.Debug("sending batch", "batch", req.BatchID, "changes", len(req.ChangeSets), "gets", len(req.Gets))

			resp, err := app.client.BatchOperation(cmd.Context(), req, app.options)
			if err != nil {
				return err
			}

			if raw {
				app.printer.Message("%s", resp.Raw)
				return nil
			}

			parts, err := resp.Parts()
			if err != nil {
				return fmt.Errorf("failed to split batch response: %w", err)
			}
			return app.printer.Print(parts)
		},
	}

	cmd.Flags().StringArrayVar(&changeSets, "changeset", nil, "Write as METHOD:path:json, repeatable")
	cmd.Flags().StringArrayVar(&gets, "get", nil, "Read path, repeatable")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch boundary id (default random)")
	cmd.Flags().StringVar(&changeSetID, "changeset-id", "", "Changeset boundary id (default random)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the multipart response as received")
	return cmd
}

func newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the calling user, business unit and organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := app.client.WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			return app.printer.Print(who)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		signOut bool
		show    bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign in and print the access token (masked unless --show)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if signOut {
				if app.auth == nil {
					return fmt.Errorf("no token cache in use")
				}
				if err := app.auth.ClearCache(cmd.Context()); err != nil {
					return err
				}
				app.printer.Message("Token cache cleared")
				return nil
			}

			token, err := app.tokens.Token(cmd.Context())
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			if show {
				app.printer.Message("%s", token)
				return nil
			}
			app.printer.Message("%s", debug.MaskToken(token))
			return nil
		},
	}

	cmd.Flags().BoolVar(&signOut, "clear", false, "Sign out and remove the token cache")
	cmd.Flags().BoolVar(&show, "show", false, "Print the full token")
	return cmd
}
