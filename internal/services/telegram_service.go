package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Notifier receives payment lifecycle events. It is the gateway's outbound
// notification sink; delivery failures never affect reconciliation state.
type Notifier interface {
	PaymentConfirmed(n PaymentNotification)
	PaymentExpired(n PaymentNotification)
}

// PaymentNotification describes a settled payment for the admin channel.
type PaymentNotification struct {
	OrderNumber string
	AssetCode   string
	Amount      decimal.Decimal
	Memo        string
	TxHash      string
	From        string
}

// TelegramService sends gateway notifications to a Telegram admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	httpClient  *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// PaymentConfirmed notifies the admin chat that a payment settled.
func (s *TelegramService) PaymentConfirmed(n PaymentNotification) {
	text := fmt.Sprintf(
		"✅ <b>Payment confirmed</b>\n\nOrder: <b>%s</b>\nAmount: <b>%s %s</b>\nTX: <code>%s</code>\nFrom: <code>%s</code>",
		n.OrderNumber,
		n.Amount.StringFixed(7),
		n.AssetCode,
		n.TxHash,
		n.From,
	)
	if err := s.SendToAdmin(text); err != nil {
		log.Printf("[Telegram] payment confirmed notification failed: %v", err)
	}
}

// PaymentExpired notifies the admin chat that a payment window closed unpaid.
func (s *TelegramService) PaymentExpired(n PaymentNotification) {
	text := fmt.Sprintf(
		"⏰ <b>Payment expired</b>\n\nOrder: <b>%s</b>\nExpected: <b>%s %s</b>\nMemo: <code>%s</code>\n\nNo matching payment found on the Stellar network before the deadline.",
		n.OrderNumber,
		n.Amount.StringFixed(7),
		n.AssetCode,
		n.Memo,
	)
	if err := s.SendToAdmin(text); err != nil {
		log.Printf("[Telegram] payment expired notification failed: %v", err)
	}
}
