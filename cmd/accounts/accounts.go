package accounts

// Interactive admin CLI for seeding exchange accounts, vaults and webhook
// sources. Credentials are encrypted before they touch the database.

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                                                  Show this help message")
	fmt.Println("  shutdown                                              Exit the CLI")
	fmt.Println("  set_account <userID> <exchange> <mode> <key> <secret> <sizePercent> [vaultID]")
	fmt.Println("                                                        Create an exchange account with encrypted credentials")
	fmt.Println("  new_vault <userID> <mode> <name>                      Create a capital vault")
	fmt.Println("  new_source <userID> <mode> [rateLimitPerMin]          Create a webhook source and print its code")
	fmt.Println("  bind <sourceID> <accountID>                           Route a source's signals to an account")
	fmt.Println()
}

type Admin struct{}

func (a *Admin) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	accountRep := repository.NewExchangeAccountRepository()
	sourceRep := repository.NewWebhookSourceRepository()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return nil
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {

		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "set_account":
			if len(parts) < 7 {
				printUsage()
				continue
			}
			userID, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				fmt.Println("invalid userID:", parts[1])
				continue
			}
			exchange, mode, key, secret := parts[2], parts[3], parts[4], parts[5]

			sizePercent, err := strconv.Atoi(parts[6])
			if err != nil {
				fmt.Println("invalid sizePercent:", parts[6])
				continue
			}

			var vaultID *uint
			if len(parts) > 7 {
				parsed, err := strconv.ParseUint(parts[7], 10, 64)
				if err != nil {
					fmt.Println("invalid vaultID:", parts[7])
					continue
				}
				id := uint(parsed)
				vaultID = &id
			}

			encryptedKey, err := security.EncryptString(key)
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt key")
				continue
			}
			encryptedSecret, err := security.EncryptString(secret)
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt secret")
				continue
			}

			account := &model.ExchangeAccount{
				UserID:           uint(userID),
				ExchangeName:     strings.ToUpper(exchange),
				TradeMode:        strings.ToUpper(mode),
				APIKeyEnc:        encryptedKey,
				APISecretEnc:     encryptedSecret,
				OrderSizePercent: sizePercent,
				VaultID:          vaultID,
				Active:           true,
			}
			if err := accountRep.Create(ctx, account); err != nil {
				logger.WithError(err).Error("Failed to create account")
				continue
			}
			fmt.Printf("account %d created\n", account.ID)

		case "new_vault":
			if len(parts) < 4 {
				printUsage()
				continue
			}
			userID, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				fmt.Println("invalid userID:", parts[1])
				continue
			}

			pot := &model.Vault{
				UserID:    uint(userID),
				TradeMode: strings.ToUpper(parts[2]),
				Name:      strings.Join(parts[3:], " "),
			}
			if err := database.MainDB.WithContext(ctx).Create(pot).Error; err != nil {
				logger.WithError(err).Error("Failed to create vault")
				continue
			}
			fmt.Printf("vault %d created\n", pot.ID)

		case "new_source":
			if len(parts) < 3 {
				printUsage()
				continue
			}
			userID, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				fmt.Println("invalid userID:", parts[1])
				continue
			}

			rateLimit := 60
			if len(parts) > 3 {
				rateLimit, err = strconv.Atoi(parts[3])
				if err != nil {
					fmt.Println("invalid rateLimitPerMin:", parts[3])
					continue
				}
			}

			source := &model.WebhookSource{
				UserID:          uint(userID),
				WebhookCode:     strings.ReplaceAll(uuid.NewString(), "-", ""),
				TradeMode:       strings.ToUpper(parts[2]),
				RateLimitPerMin: rateLimit,
				Active:          true,
			}
			if err := sourceRep.Create(ctx, source); err != nil {
				logger.WithError(err).Error("Failed to create webhook source")
				continue
			}
			fmt.Printf("source %d created, webhook code: %s\n", source.ID, source.WebhookCode)

		case "bind":
			if len(parts) < 3 {
				printUsage()
				continue
			}
			sourceID, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				fmt.Println("invalid sourceID:", parts[1])
				continue
			}
			accountID, err := strconv.ParseUint(parts[2], 10, 64)
			if err != nil {
				fmt.Println("invalid accountID:", parts[2])
				continue
			}

			binding := &model.WebhookSourceBinding{
				WebhookSourceID:   uint(sourceID),
				ExchangeAccountID: uint(accountID),
			}
			if err := database.MainDB.WithContext(ctx).Create(binding).Error; err != nil {
				logger.WithError(err).Error("Failed to create binding")
				continue
			}
			fmt.Printf("source %d now feeds account %d\n", sourceID, accountID)

		default:
			fmt.Println("Unknown command:", cmd)
			printUsage()
		}
	}
}
