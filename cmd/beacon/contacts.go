package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/beacon/internal/campaign"
)

var (
	contactsUser string
	contactsList string
	contactsFile string
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Contact list commands",
}

var contactsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import contacts from a CSV file",
	Long: `Import contacts into a user's list. The CSV header must contain an
"email" column; "firstName", "lastName" and "status" are optional.
Existing contacts with the same address are replaced.`,
	RunE: runContactsImport,
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the contacts of a list",
	RunE:  runContactsList,
}

func init() {
	for _, c := range []*cobra.Command{contactsImportCmd, contactsListCmd} {
		c.Flags().StringVar(&contactsUser, "user", "", "Owner user ID (required)")
		c.Flags().StringVar(&contactsList, "list", "", "List name (required)")
		c.MarkFlagRequired("user")
		c.MarkFlagRequired("list")
	}
	contactsImportCmd.Flags().StringVar(&contactsFile, "file", "", "CSV file path (required)")
	contactsImportCmd.MarkFlagRequired("file")

	contactsCmd.AddCommand(contactsImportCmd, contactsListCmd)
	rootCmd.AddCommand(contactsCmd)
}

// readContacts parses contacts from CSV with a header row
func readContacts(r io.Reader, userID, listName string) ([]*campaign.Contact, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("file is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	emailCol, ok := columns["email"]
	if !ok {
		return nil, fmt.Errorf("header has no email column")
	}
	field := func(record []string, name string) string {
		i, ok := columns[strings.ToLower(name)]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var contacts []*campaign.Contact
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if emailCol >= len(record) {
			return nil, fmt.Errorf("line %d: missing email", line)
		}

		email := strings.TrimSpace(record[emailCol])
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("line %d: invalid email %q", line, email)
		}

		status := campaign.ContactStatus(strings.ToLower(field(record, "status")))
		switch status {
		case "":
			status = campaign.ContactValid
		case campaign.ContactValid, campaign.ContactBounced, campaign.ContactUnsubscribed:
		default:
			return nil, fmt.Errorf("line %d: unknown status %q", line, status)
		}

		contacts = append(contacts, &campaign.Contact{
			UserID:    userID,
			ListName:  listName,
			Email:     email,
			FirstName: field(record, "firstName"),
			LastName:  field(record, "lastName"),
			Status:    status,
		})
	}
	return contacts, nil
}

func runContactsImport(cmd *cobra.Command, args []string) error {
	file, err := os.Open(contactsFile)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	contacts, err := readContacts(file, contactsUser, contactsList)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", contactsFile, err)
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	for _, c := range contacts {
		if err := store.PutContact(ctx, c); err != nil {
			return fmt.Errorf("failed to store %s: %w", c.Email, err)
		}
	}

	fmt.Printf("Imported %d contacts into list %q\n", len(contacts), contactsList)
	return nil
}

func runContactsList(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	contacts, err := store.ListContacts(context.Background(), contactsUser, contactsList)
	if err != nil {
		return fmt.Errorf("failed to list contacts: %w", err)
	}

	if len(contacts) == 0 {
		fmt.Println("List is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tFIRST NAME\tLAST NAME\tSTATUS")
	fmt.Fprintln(w, "-----\t----------\t---------\t------")
	for _, c := range contacts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Email, c.FirstName, c.LastName, c.Status)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d contacts\n", len(contacts))

	return nil
}
