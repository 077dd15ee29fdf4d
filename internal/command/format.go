package command

import (
	"fmt"
	"strings"
	"time"

	"moneyman/internal/model"
)

func helpText(p string) string {
	return fmt.Sprintf(`Moneyman converts amounts mentioned in chat, like £12 or 30 EUR.
React to a reply with a flag to add that currency.

Commands:
%[1]sconvert <amount> <FROM> [TO...] - convert an amount
%[1]srates - show rate freshness and this chat's targets
%[1]stargets - show this chat's target currencies
%[1]stargets <CODE...> - set this chat's targets
%[1]stargets reset - go back to the default targets
%[1]srefresh - fetch rates now
%[1]sping - check the bot is alive`, p)
}

// FormatRates describes the cached snapshot and the chat's targets.
func FormatRates(snap *model.RateSnapshot, targets []string, now time.Time) string {
	var b strings.Builder
	if snap == nil {
		b.WriteString("No rates cached yet.")
	} else {
		age := snap.Age(now).Truncate(time.Minute)
		fmt.Fprintf(&b, "Rates for %d currencies, fetched %s ago (%s).",
			len(snap.Rates), age, snap.FetchedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	fmt.Fprintf(&b, "\nTargets here: %s", strings.Join(targets, ", "))
	return b.String()
}
