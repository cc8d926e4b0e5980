package topics

import (
	"strings"

	"github.com/nerrad567/mqtt-gateway/internal/device"
)

// ratgdoSubtopics are the status sub-topics a ratgdo garage controller publishes.
var ratgdoSubtopics = []string{"availability", "light", "door", "motion", "lock", "obstruction"}

type deriveFunc func(d device.Descriptor) []string

// deriveRules holds the per-type topic rules. Types not listed subscribe to
// their single status topic.
var deriveRules = map[device.Type]deriveFunc{
	device.TypeDimmer:         withResult,
	device.TypeTempHumid:      withStatus10,
	device.TypeTemp:           withStatus10,
	device.TypeTempHumidPress: withStatus10,
	device.TypeAnalog:         withStatus10,
	device.TypeRatgdo:         ratgdoTopics,
	device.TypeShellyFlood:    allStatusTopics,
}

// ForDescriptor returns the topics a device is reached on: its primary
// status topic plus any siblings its type answers queries on.
func ForDescriptor(d device.Descriptor) []string {
	if rule, ok := deriveRules[d.Type]; ok {
		return rule(d)
	}
	if p := d.StatusTopic.Primary(); p != "" {
		return []string{p}
	}
	return nil
}

// replaceLast swaps the final path segment of topic. A topic with a single
// level gets segment appended as a new level.
func replaceLast(topic, segment string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[:i+1] + segment
	}
	return topic + "/" + segment
}

// withResult adds the RESULT sibling a Tasmota dimmer answers commands on.
func withResult(d device.Descriptor) []string {
	p := d.StatusTopic.Primary()
	return []string{p, replaceLast(p, "RESULT")}
}

// withStatus10 adds the stat/.../STATUS10 topic a Tasmota sensor answers
// "Status 10" queries on.
func withStatus10(d device.Descriptor) []string {
	p := d.StatusTopic.Primary()
	status := strings.ReplaceAll(replaceLast(p, "STATUS10"), "tele/", "stat/")
	return []string{p, status}
}

func ratgdoTopics(d device.Descriptor) []string {
	base := strings.TrimSuffix(d.StatusTopic.Primary(), "/")
	out := make([]string, 0, len(ratgdoSubtopics))
	for _, sub := range ratgdoSubtopics {
		out = append(out, base+"/status/"+sub)
	}
	return out
}

func allStatusTopics(d device.Descriptor) []string {
	out := make([]string, 0, len(d.StatusTopic))
	for _, t := range d.StatusTopic {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
