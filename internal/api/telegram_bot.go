// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/serdaroglu/suizim-bot/internal/entities"
)

// replyTimeout bounds the work done for one message. Render sources alone may take up to 30s each.
const replyTimeout = 90 * time.Second

// ReservoirService is what the bot needs from the reservoir use case
type ReservoirService interface {
	DefaultCity() entities.City
	GetAvailableCities() []string
	GetCityReport(ctx context.Context, city entities.City) string
	GetLastUpdateTime() (time.Time, error)
	HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error)
}

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot     *tgbotapi.BotAPI
	service ReservoirService
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, service ReservoirService) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &TelegramBot{
		bot:     bot,
		service: service,
	}, nil
}

// Start begins listening for and handling Telegram messages until ctx is done
func (t *TelegramBot) Start(ctx context.Context) {
	log.Printf("Authorized on Telegram account %s", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	log.Println("Bot is now listening for messages...")

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping Telegram updates")
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}

			log.Printf("Received message from %s (ID: %d): %s",
				userName(update.Message),
				update.Message.Chat.ID,
				update.Message.Text)

			t.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage answers one Telegram message
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	msg := tgbotapi.NewMessage(message.Chat.ID, t.reply(ctx, message))

	log.Printf("Sending response to user %s", userName(message))
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (t *TelegramBot) reply(ctx context.Context, message *tgbotapi.Message) string {
	if message.IsCommand() {
		return t.handleCommand(ctx, message)
	}
	return t.handleNonCommand(ctx, message)
}

// handleCommand processes commands like /start, /help, etc.
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) string {
	switch message.Command() {
	case "start":
		log.Printf("Handling /start command for user %s", userName(message))
		return "Su İzim'e hoş geldin! Baraj doluluk oranları için /baraj yaz, desteklenen şehirler için /cities, tüm komutlar için /help."

	case "help":
		log.Printf("Handling /help command for user %s", userName(message))
		return "Komutlar:\n" +
			"/start - Botu başlat\n" +
			"/cities - Desteklenen şehirleri göster\n" +
			"/baraj [şehir] - Şehrin baraj doluluk oranları (şehir verilmezse " + string(t.service.DefaultCity()) + ")\n" +
			"/help - Bu mesajı göster\n\n" +
			"Soru da sorabilirsin, örneğin: \"İzmir'de barajlar ne durumda?\""

	case "cities":
		log.Printf("Handling /cities command for user %s", userName(message))
		return t.handleCitiesCommand()

	case "baraj":
		args := strings.TrimSpace(message.CommandArguments())
		log.Printf("Handling /baraj command with args '%s' for user %s", args, userName(message))
		return t.handleReservoirCommand(ctx, args)

	default:
		log.Printf("Received unknown command /%s from user %s", message.Command(), userName(message))
		return "Bilinmeyen komut. Komutlar için /help yaz."
	}
}

// handleCitiesCommand processes the /cities command
func (t *TelegramBot) handleCitiesCommand() string {
	var b strings.Builder
	b.WriteString("Desteklenen şehirler:\n\n")
	for _, city := range t.service.GetAvailableCities() {
		b.WriteString("• " + city + "\n")
	}
	b.WriteString("\nAyrıntı için /baraj [şehir] yaz.")

	if lastUpdate, err := t.service.GetLastUpdateTime(); err != nil {
		log.Printf("Error fetching last update time: %v", err)
	} else if !lastUpdate.IsZero() {
		b.WriteString(fmt.Sprintf("\n\n🕒 Son güncelleme: %s", lastUpdate.Format("02.01.2006 15:04")))
	}
	return b.String()
}

// handleReservoirCommand processes the /baraj [city] command
func (t *TelegramBot) handleReservoirCommand(ctx context.Context, args string) string {
	city := t.service.DefaultCity()
	if args != "" {
		parsed, ok := entities.ParseCity(args)
		if !ok {
			return fmt.Sprintf("'%s' desteklenmiyor. Desteklenen şehirler için /cities yaz.", args)
		}
		city = parsed
	}
	return t.service.GetCityReport(ctx, city)
}

// handleNonCommand processes regular messages
func (t *TelegramBot) handleNonCommand(ctx context.Context, message *tgbotapi.Message) string {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return "Komutlar için /help yaz."
	}

	// A bare city name needs no interpretation.
	if city, ok := entities.ParseCity(text); ok {
		return t.service.GetCityReport(ctx, city)
	}

	response, err := t.service.HandleNaturalLanguageQuery(ctx, text)
	if err != nil || response == "" {
		if err != nil {
			log.Printf("Error handling free-text query: %v", err)
		}
		return "Bunu anlayamadım. Komutlar için /help yaz."
	}
	return response
}

func userName(message *tgbotapi.Message) string {
	if message.From == nil {
		return "unknown"
	}
	return message.From.UserName
}
