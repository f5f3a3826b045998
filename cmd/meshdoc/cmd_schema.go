package main

import (
	"fmt"
	"log/slog"

	"github.com/dannyswat/meshdoc"
	"github.com/spf13/cobra"
)

var (
	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Work with schema files",
	}
	schemaValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Load a schema and list its tags",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSchemaValidate,
	}
	schemaConvertCmd = &cobra.Command{
		Use:   "convert [file]",
		Short: "Print a schema in its canonical JSON form",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSchemaConvert,
	}
)

func loadSchema(args []string) (*meshdoc.MeshSchema, error) {
	path, err := resolveSchemaPath(args)
	if err != nil {
		return nil, err
	}
	schema, err := meshdoc.LoadSchemaFile(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("schema loaded", "path", path, "tags", len(schema.Tags()))
	return schema, nil
}

func runSchemaValidate(cmd *cobra.Command, args []string) error {
	schema, err := loadSchema(args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, tag := range schema.Tags() {
		marker := ""
		if tag == schema.RootTagName {
			marker = " (root)"
		}
		fmt.Fprintf(out, "%s%s\n", tag, marker)
	}
	return nil
}

func runSchemaConvert(cmd *cobra.Command, args []string) error {
	schema, err := loadSchema(args)
	if err != nil {
		return err
	}
	data, err := schema.ToJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
