package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/store"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.epub>",
		Short: "Add an EPUB file to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			return ctx.withLibrary(func(library *service.LibraryService) error {
				book, err := library.ImportEPUB(cmd.Context(), path)
				if err != nil {
					return err
				}
				chapters, err := library.ListChapters(cmd.Context(), book.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %q with %d chapters (%s)\n", book.Title, len(chapters), book.ID)
				return nil
			})
		},
	}
}

func newBooksCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var query string

	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the books in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(library *service.LibraryService) error {
				var books []*domain.Book
				if strings.TrimSpace(query) != "" {
					found, err := library.SearchBooks(cmd.Context(), query)
					if err != nil {
						return err
					}
					books = found
				} else {
					page, err := library.ListBooks(cmd.Context(), store.PaginationParams{Limit: limit})
					if err != nil {
						return err
					}
					books = page.Items
				}

				out := cmd.OutOrStdout()
				if len(books) == 0 {
					fmt.Fprintln(out, "No books")
					return nil
				}
				fmt.Fprintln(out, renderBooks(books))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultPageSize, "Maximum number of books to list")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Fuzzy search by title")
	return cmd
}

func newChaptersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "chapters <book-id> [query]",
		Short: "List a book's chapters, optionally filtered by title",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(library *service.LibraryService) error {
				out := cmd.OutOrStdout()
				if len(args) == 2 {
					matches, err := library.SearchChapters(cmd.Context(), args[0], args[1])
					if err != nil {
						return err
					}
					if len(matches) == 0 {
						fmt.Fprintln(out, "No matching chapters")
						return nil
					}
					fmt.Fprintln(out, renderMatches(matches))
					return nil
				}

				chapters, err := library.ListChapters(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderChapters(chapters))
				return nil
			})
		},
	}
}

func renderBooks(books []*domain.Book) string {
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{b.ID, b.Title, b.LastReadChapter, yesNo(b.Completed)})
	}
	return renderTable(
		[]string{"ID", "Title", "Last Read", "Completed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func renderChapters(chapters []domain.Chapter) string {
	rows := make([][]string, 0, len(chapters))
	for _, c := range chapters {
		rows = append(rows, []string{
			strconv.Itoa(c.Index + 1),
			c.Title,
			yesNo(c.Read),
			strconv.Itoa(c.LastReadPosition),
		})
	}
	return renderTable(
		[]string{"#", "Title", "Read", "Position"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
	)
}

func renderMatches(matches []service.ChapterMatch) string {
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{
			strconv.Itoa(m.Chapter.Index + 1),
			m.Chapter.Title,
			strconv.Itoa(m.Score),
		})
	}
	return renderTable(
		[]string{"#", "Title", "Score"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight},
	)
}
