package confclient

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

const emptyJson = "{}"

type VideoConstraint struct {
	OffVideo bool `json:"offVideo"`
	LowRes   bool `json:"lowRes"`
	LowFps   bool `json:"lowFps"`
}

func createEndpointMessage(log *logrus.Entry, msgPayload interface{}, to string) string {
	msg := map[string]interface{}{
		"colibriClass": "EndpointMessage",
		"to":           to,
		"msgPayload":   msgPayload,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("error while converting to JSON")
		return emptyJson
	}
	return string(msgBytes)
}

func createSubscribedEndpointsChangedEvent(log *logrus.Entry, subscribedEndpoints map[ /*EndpointId*/ string]VideoConstraint) string {
	msg := map[string]interface{}{
		"colibriClass":        "SubscribedEndpointsChangedEvent",
		"subscribedEndpoints": subscribedEndpoints,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("error while converting to JSON")
		return emptyJson
	}
	return string(msgBytes)
}

func createReceiverVideoConstraint(log *logrus.Entry, maxFrameHeight int, maxFrameTemporalLayerId int) string {
	msg := map[string]interface{}{
		"colibriClass":            "ReceiverVideoConstraint",
		"maxFrameHeight":          maxFrameHeight,
		"maxFrameTemporalLayerId": maxFrameTemporalLayerId,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("error while converting to JSON")
		return emptyJson
	}
	return string(msgBytes)
}
