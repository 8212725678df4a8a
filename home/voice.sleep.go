package home

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/morphbot/sys"
	"github.com/sho0pi/naturaltime"
)

const maxSleep = 24 * time.Hour

var (
	sleepParserOnce sync.Once
	sleepParserMu   sync.Mutex
	sleepParser     *naturaltime.Parser
	sleepParserErr  error
)

func handleVoiceSleep(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}

	when := strings.TrimSpace(data.String("when"))
	if when == "" || strings.EqualFold(when, "off") || strings.EqualFold(when, "cancel") {
		if s.Snapshot().SleepAt.IsZero() {
			reply(event, "No sleep timer is set.")
			return
		}
		s.SetSleepTimer(time.Time{})
		reply(event, "⏰ Sleep timer cancelled.")
		return
	}

	at, err := parseSleep(when, time.Now())
	if err != nil {
		reply(event, fmt.Sprintf("❌ %v", err))
		return
	}
	if !s.SetSleepTimer(at) {
		reply(event, "Not playing anything.")
		return
	}
	reply(event, fmt.Sprintf("😴 Leaving <t:%d:R>.", at.Unix()))
}

// parseSleep accepts Go durations ("45m", "1h30m") and natural phrases ("in 20 minutes", "11pm").
func parseSleep(input string, now time.Time) (time.Time, error) {
	var at time.Time
	if d, err := time.ParseDuration(input); err == nil {
		at = now.Add(d)
	} else {
		p, err := naturalParser()
		if err != nil {
			return time.Time{}, err
		}
		sleepParserMu.Lock()
		res, err := p.ParseDate(input, now)
		sleepParserMu.Unlock()
		if err != nil || res == nil {
			return time.Time{}, fmt.Errorf("could not understand %q", input)
		}
		at = *res
	}

	switch {
	case !at.After(now):
		return time.Time{}, errors.New("that time has already passed")
	case at.Sub(now) > maxSleep:
		return time.Time{}, fmt.Errorf("the timer can be at most %s", sys.FormatSpan(maxSleep))
	}
	return at, nil
}

func naturalParser() (*naturaltime.Parser, error) {
	sleepParserOnce.Do(func() {
		sleepParser, sleepParserErr = naturaltime.New()
		if sleepParserErr != nil {
			sys.LogError(sys.MsgVoiceSleepParseInit, sleepParserErr)
		}
	})
	return sleepParser, sleepParserErr
}
