package rs

import (
	"fmt"
	"math/rand"
	"net/http"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/aceoauth/edhoc-gateway/internal/codec"
	"github.com/aceoauth/edhoc-gateway/internal/oscore"
)

// temperatureReading is the plaintext payload OSCORE-encrypted in response
// to GET /temperature, grounded on original_source/rs/__init__.py's
// TemperatureServer.get_temperature.
type temperatureReading struct {
	Temperature string `cbor:"temperature"`
}

type ledCommand struct {
	LedValue int `cbor:"led_value"`
}

// RoutesApp mounts the resource routes behind their required scopes, the
// same split (read_temperature/post_led) as the original_source handlers.
func (s *Server) RoutesApp(r chi.Router) {
	r.Get("/temperature", s.Wrap("temperature_g", s.getTemperature))
	r.Post("/led", s.Wrap("led_w", s.postLed))
}

func (s *Server) getTemperature(_ []byte, _ *oscore.Context) (int, []byte, error) {
	celsius := 22 + rand.Intn(5) // 22-26 inclusive, as in the original handler
	reading := temperatureReading{Temperature: fmt.Sprintf("%dC", celsius)}
	payload, err := codec.Marshal(reading)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, payload, nil
}

func (s *Server) postLed(plaintext []byte, _ *oscore.Context) (int, []byte, error) {
	var cmd ledCommand
	if err := codec.Unmarshal(plaintext, &cmd); err != nil {
		return 0, nil, err
	}
	log.Infof("setting LED value to %d", cmd.LedValue)

	payload, err := codec.Marshal("OK")
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, payload, nil
}

