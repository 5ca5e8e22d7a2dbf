// Command importaddrs bulk-registers watched addresses from a text file,
// one base58 address per line (optionally "address,label"), without going
// through the control-surface API.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/spf13/cobra"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store/mongodoc"
)

var (
	mongoURL string
	file     string
	dryRun   bool
)

var rootCmd = &cobra.Command{
	Use:   "importaddrs",
	Short: "Bulk-register watched addresses",
	Long:  `importaddrs reads a file of BSV addresses and registers each one as a watched address, skipping lines that are already registered.`,
	RunE:  runImport,
}

func init() {
	rootCmd.Flags().StringVar(&mongoURL, "mongo-url", os.Getenv("MONGODB_URL"), "MongoDB connection string (defaults to $MONGODB_URL)")
	rootCmd.Flags().StringVar(&file, "file", "", "path to a file of addresses, one per line (required)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing to the store")
	rootCmd.MarkFlagRequired("file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	entries, err := readAddressFile(file)
	if err != nil {
		return fmt.Errorf("read address file: %w", err)
	}
	fmt.Printf("parsed %d address(es) from %s\n", len(entries), file)

	if dryRun {
		fmt.Println("dry run, nothing written")
		return nil
	}

	if mongoURL == "" {
		return fmt.Errorf("--mongo-url (or $MONGODB_URL) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := mongodoc.Connect(ctx, mongoURL)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer st.Disconnect(ctx) //nolint:errcheck

	var registered, skipped int
	for _, e := range entries {
		existing, err := st.Addresses.FindByAddress(ctx, e.address)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", e.address, err)
		}
		if existing != nil {
			skipped++
			continue
		}
		addr := &model.WatchedAddress{
			Address:   e.address,
			Active:    true,
			CreatedAt: time.Now(),
			Label:     e.label,
		}
		if err := st.Addresses.Upsert(ctx, addr); err != nil {
			return fmt.Errorf("register %s: %w", e.address, err)
		}
		registered++
	}

	fmt.Printf("registered %d, skipped %d already-watched\n", registered, skipped)
	return nil
}

type addressEntry struct {
	address string
	label   string
}

// readAddressFile parses one address per line, optionally "address,label",
// rejecting any line whose address fails base58check decoding.
func readAddressFile(path string) ([]addressEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []addressEntry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, label, _ := strings.Cut(line, ",")
		addr = strings.TrimSpace(addr)
		if _, _, err := base58.CheckDecode(addr); err != nil {
			return nil, fmt.Errorf("line %d: invalid address %q: %w", lineNo, addr, err)
		}
		entries = append(entries, addressEntry{address: addr, label: strings.TrimSpace(label)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
