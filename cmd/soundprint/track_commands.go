package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"soundprint/internal/pipeline"
	"soundprint/pkg/models"

	"github.com/spf13/cobra"
)

// trackView is the JSON shape printed for one registered track.
type trackView struct {
	ID string `json:"id"`
	models.Track
}

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var title, artist string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "register <url>",
		Short: "Download audio from a URL and register its fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			track, err := app.registrar.Register(cmd.Context(), pipeline.Source{
				URL:    strings.TrimSpace(args[0]),
				Title:  title,
				Artist: artist,
			})
			if err != nil {
				return err
			}
			return printRegistered(cmd, track, jsonOut)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Track title used for the metadata lookup")
	cmd.Flags().StringVar(&artist, "artist", "", "Track artist used for the metadata lookup")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the registered track as JSON")
	return cmd
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var title, artist string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Register the fingerprint of a local audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			track, err := app.registrar.Register(cmd.Context(), pipeline.Source{
				Upload:   f,
				Filename: filepath.Base(args[0]),
				Title:    title,
				Artist:   artist,
			})
			if err != nil {
				return err
			}
			return printRegistered(cmd, track, jsonOut)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Track title used for the metadata lookup")
	cmd.Flags().StringVar(&artist, "artist", "", "Track artist used for the metadata lookup")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the registered track as JSON")
	return cmd
}

func printRegistered(cmd *cobra.Command, track models.Track, jsonOut bool) error {
	if jsonOut {
		return writeJSON(cmd, trackView{ID: track.ID, Track: track})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s: %s - %s\n", track.ID, displayArtist(track.Artist), track.Title)
	return nil
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			collection, err := st.Load()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, collection)
			}

			out := cmd.OutOrStdout()
			if len(collection) == 0 {
				fmt.Fprintln(out, "No tracks registered")
				return nil
			}

			ids := make([]string, 0, len(collection))
			for id := range collection {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				track := collection[id]
				rows = append(rows, []string{
					id,
					track.Title,
					displayArtist(track.Artist),
					track.Album,
					fmt.Sprintf("%d", len(track.Fingerprint)),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Title", "Artist", "Album", "Coeffs"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the raw collection as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one registered track as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			track, ok, err := st.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("track %s not found", args[0])
			}
			return writeJSON(cmd, trackView{ID: args[0], Track: track})
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a registered track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			_, ok, err := st.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("track " + args[0] + " not found")
			}
			if err := st.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func displayArtist(artist string) string {
	if strings.TrimSpace(artist) == "" {
		return "Unknown Artist"
	}
	return artist
}
