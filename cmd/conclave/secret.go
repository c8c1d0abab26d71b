package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"conclave/internal/config"
	"conclave/internal/registry"
	"conclave/internal/store"
)

// runSecret manages vault-encrypted backend credentials, addressable from
// agent definitions as "secret:<name>".
func runSecret(args []string) error {
	if len(args) == 0 {
		printSecretUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return secretList(db)
	case "set":
		return secretSet(cfg, db, args[1:])
	case "delete":
		return secretDelete(db, args[1:])
	default:
		printSecretUsage()
		return fmt.Errorf("unknown secret command: %s", args[0])
	}
}

func printSecretUsage() {
	fmt.Fprintf(os.Stderr, `Usage: conclave secret <command>

Commands:
  list                                            List stored credentials (metadata only)
  set <name> --value <key> [--description <text>] Store an encrypted credential
  delete <name>                                   Delete a credential

Environment:
  CONCLAVE_VAULT_PASSPHRASE   Required for set. Encryption passphrase.
`)
}

func secretList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No credentials stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func secretSet(cfg *config.Config, db *store.Store, args []string) error {
	if len(args) < 3 || args[1] != "--value" {
		return fmt.Errorf("usage: conclave secret set <name> --value <key> [--description <text>]")
	}
	name, value := args[0], args[2]

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	v := openVault(cfg)
	if v == nil {
		return fmt.Errorf("CONCLAVE_VAULT_PASSPHRASE is required")
	}

	reg := registry.New(registry.Options{Store: db, Vault: v})
	if err := reg.StoreCredential(name, description, value); err != nil {
		return err
	}
	fmt.Printf("Credential %q saved; reference it as secret:%s\n", name, name)
	return nil
}

func secretDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conclave secret delete <name>")
	}
	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("Credential %q deleted\n", args[0])
	return nil
}
