// Package services – deny messages
//
// Human-readable deny messages are rendered through golang.org/x/text/message
// so the same reason code can be shown in the canteen's language. English is
// the fallback for any tag without a catalog entry.
package services

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	msgOrderClosed      = "Ordering for %s closed at %s."
	msgNoOrdering       = "Ordering for %s is not available."
	msgNotListed        = "This item is not on the menu for %s."
	msgAlreadyOrdered   = "You have already ordered this item for %s."
	msgInsufficient     = "Insufficient balance: %s required, %s available."
	msgDebitLimit       = "Order would exceed your debit limit of %s."
	msgGroupLimit       = "Limit of %d %s per day for group %s reached."
	msgOrderLocked      = "The order for %s can no longer be changed."
	msgInternal         = "Ordering is temporarily unavailable."
	msgCancelClosed     = "Cancellation for %s closed at %s."
	msgCancelNoDeadline = "Cancellation for %s is not available."
)

func init() {
	if err := loadCatalog(message.SetString); err != nil {
		panic(err)
	}
}

// loadCatalog registers every deny message in English and Czech through set.
func loadCatalog(set func(tag language.Tag, key, msg string) error) error {
	en := map[string]string{
		msgOrderClosed:      msgOrderClosed,
		msgNoOrdering:       msgNoOrdering,
		msgNotListed:        msgNotListed,
		msgAlreadyOrdered:   msgAlreadyOrdered,
		msgInsufficient:     msgInsufficient,
		msgDebitLimit:       msgDebitLimit,
		msgGroupLimit:       msgGroupLimit,
		msgOrderLocked:      msgOrderLocked,
		msgInternal:         msgInternal,
		msgCancelClosed:     msgCancelClosed,
		msgCancelNoDeadline: msgCancelNoDeadline,
	}
	cs := map[string]string{
		msgOrderClosed:      "Uzávěrka objednávek na %s byla %s.",
		msgNoOrdering:       "Objednávky na %s nejsou povoleny.",
		msgNotListed:        "Položka není na jídelníčku pro %s.",
		msgAlreadyOrdered:   "Tuto položku již máte objednanou na %s.",
		msgInsufficient:     "Nedostatečný zůstatek: potřeba %s, k dispozici %s.",
		msgDebitLimit:       "Objednávka by překročila debetní limit %s.",
		msgGroupLimit:       "Limit %d ks %s za den pro skupinu %s!",
		msgOrderLocked:      "Objednávku na %s již nelze měnit.",
		msgInternal:         "Objednávání je dočasně nedostupné.",
		msgCancelClosed:     "Uzávěrka rušení na %s byla %s.",
		msgCancelNoDeadline: "Zrušení objednávky na %s není možné.",
	}
	for tag, msgs := range map[language.Tag]map[string]string{language.English: en, language.Czech: cs} {
		for k, v := range msgs {
			if err := set(tag, k, v); err != nil {
				return fmt.Errorf("messages: %s %q: %w", tag, k, err)
			}
		}
	}
	return nil
}

// Messages renders deny messages for one locale.
type Messages struct {
	p *message.Printer
}

// NewMessages returns a renderer for tag; unknown tags fall back to English.
func NewMessages(tag language.Tag) *Messages {
	matcher := language.NewMatcher([]language.Tag{language.English, language.Czech})
	_, idx, _ := matcher.Match(tag)
	supported := []language.Tag{language.English, language.Czech}
	return &Messages{p: message.NewPrinter(supported[idx])}
}

// Sprintf formats one of the catalog keys.
func (m *Messages) Sprintf(key string, args ...any) string {
	if m == nil || m.p == nil {
		m = NewMessages(language.English)
	}
	return m.p.Sprintf(key, args...)
}

func (m *Messages) deny(reason DenyReason, key string, args ...any) *DenyError {
	return &DenyError{Reason: reason, Message: m.Sprintf(key, args...)}
}
