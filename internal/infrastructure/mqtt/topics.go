package mqtt

import "strings"

// TopicPrefix is the root of every topic the station itself owns.
const TopicPrefix = "beacon"

// StatusTopic returns the retained online/offline topic for a station.
//
// Example: beacon/beacon-001/status
func StatusTopic(stationID string) string {
	return TopicPrefix + "/" + stationID + "/status"
}

// ConductTopic returns the topic on which dispatched conducts are mirrored
// for a channel, so external tooling can observe commands.
//
// Example: beacon/beacon-001/conduct/zigbee2mqtt
func ConductTopic(stationID, channel string) string {
	return TopicPrefix + "/" + stationID + "/conduct/" + channel
}

// MatchTopic reports whether topic matches the subscription filter,
// honouring the + and # wildcards.
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, part := range f {
		switch {
		case part == "#":
			return true
		case i >= len(t):
			return false
		case part == "+":
			continue
		case part != t[i]:
			return false
		}
	}
	return len(f) == len(t)
}
