package world

import (
	"strings"

	"github.com/agorasim/agora/internal/bdi"
)

// emotionTriggers is the static impact table: trigger key to per-axis
// deltas. Positive deltas on fear, anger, and sadness are amplified by
// neuroticism in applyEmotionTrigger.
var emotionTriggers = map[string]map[string]float64{
	"world_event": {
		"surprise": 0.25,
		"fear":     0.15,
		"comfort":  -0.10,
	},
	"friendly_chat": {
		"happiness":  0.10,
		"comfort":    0.08,
		"loneliness": -0.12,
	},
	"long_pleasant_chat": {
		"happiness":  0.15,
		"comfort":    0.12,
		"loneliness": -0.20,
		"sadness":    -0.05,
	},
	"conflict": {
		"anger":   0.20,
		"sadness": 0.10,
		"comfort": -0.15,
	},
	"rejection": {
		"sadness":    0.15,
		"loneliness": 0.12,
		"happiness":  -0.08,
	},
	"solitude": {
		"comfort":    0.05,
		"loneliness": 0.04,
	},
	"achievement": {
		"happiness": 0.12,
		"comfort":   0.05,
	},
}

// eventKeywordTriggers maps content keywords to triggers for injected
// events whose emotional flavor must be guessed from the description.
var eventKeywordTriggers = []struct {
	keywords []string
	trigger  string
}{
	{[]string{"fire", "alarm", "danger", "earthquake", "storm", "пожар", "тревога", "опасн"}, "world_event"},
	{[]string{"party", "celebration", "festival", "праздник", "фестиваль"}, "achievement"},
	{[]string{"fight", "argument", "conflict", "ссора", "конфликт"}, "conflict"},
}

// triggerForEvent picks a trigger for an injected event description.
func triggerForEvent(description string) string {
	lower := strings.ToLower(description)
	for _, kt := range eventKeywordTriggers {
		for _, kw := range kt.keywords {
			if strings.Contains(lower, kw) {
				return kt.trigger
			}
		}
	}
	return "world_event"
}

// applyEmotionTrigger applies a trigger's deltas to the agent's emotion
// vector. Distress axes hit neurotic agents harder: positive deltas on
// fear, anger, and sadness scale by 1 + (neuroticism - 0.5) * 0.4.
// Every axis is clamped to [0,1].
func applyEmotionTrigger(a *bdi.Agent, trigger string) {
	deltas, ok := emotionTriggers[trigger]
	if !ok {
		return
	}
	for axis, delta := range deltas {
		if delta > 0 {
			switch axis {
			case "fear", "anger", "sadness":
				delta *= 1 + (a.Personality.Neuroticism-0.5)*0.4
			}
		}
		a.Emotions[axis] = clamp01(a.Emotions[axis] + delta)
	}
}

// updateEmotionsFromDialogue mirrors an exchanged message in the mood:
// a warm relationship reads as a friendly chat, a sour one as friction.
func updateEmotionsFromDialogue(a *bdi.Agent, affinity float64) {
	switch {
	case affinity > 0.3:
		applyEmotionTrigger(a, "long_pleasant_chat")
	case affinity >= -0.2:
		applyEmotionTrigger(a, "friendly_chat")
	default:
		applyEmotionTrigger(a, "conflict")
	}
}

// dominantEmotion returns the axis furthest above the neutral baseline,
// or empty when the whole vector sits near neutral.
func dominantEmotion(a *bdi.Agent) string {
	best := ""
	bestV := 0.0
	for _, axis := range bdi.EmotionAxes {
		if v := a.Emotions[axis]; v > bestV {
			best, bestV = axis, v
		}
	}
	if bestV <= 0.4 {
		return ""
	}
	return best
}

// drainBattery applies the outbound-message cost. Introverts pay extra,
// extroverts less, neurotic agents a surcharge.
func drainBattery(a *bdi.Agent) {
	cost := (1.1 - a.Personality.Extraversion) * 0.15
	if a.Personality.Introvert() {
		cost *= 1.5
	}
	if a.Personality.Extrovert() {
		cost *= 0.7
	}
	if a.Personality.Neuroticism > 0.6 {
		cost *= 1.2
	}
	a.AdjustBattery(-cost)
}

// restoreBattery credits a completed solo action.
func restoreBattery(a *bdi.Agent) {
	restore := 0.05
	if a.Personality.Extrovert() {
		restore *= 1.2
	}
	a.AdjustBattery(restore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
