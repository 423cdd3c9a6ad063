// Command verify_api smoke-tests a running server: register, list channels,
// post to general, read history back and toggle a reaction.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
)

var client = &http.Client{Timeout: 10 * time.Second}

func call(method, url, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, url, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func main() {
	api := flag.String("api", "http://localhost:8080", "server base URL")
	flag.Parse()
	logging.Init(logging.Config{Level: "info", Format: "console"})

	name := fmt.Sprintf("verify%d", time.Now().Unix()%100000)
	var reg struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	must(call(http.MethodPost, *api+"/api/auth/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "verify-pass",
	}, &reg))
	logging.Info().Str("user", reg.User.Username).Msg("registered")

	var list struct {
		Channels []model.ChannelView `json:"channels"`
	}
	must(call(http.MethodGet, *api+"/api/channels", reg.Token, nil, &list))
	var general *model.ChannelView
	for i := range list.Channels {
		if list.Channels[i].Name == "general" {
			general = &list.Channels[i]
		}
	}
	if general == nil {
		logging.Fatal().Int("channels", len(list.Channels)).Msg("general channel missing")
	}
	logging.Info().Int("channels", len(list.Channels)).Int("general_members", len(general.Members)).Msg("channels listed")

	var sent struct {
		Data model.MessageView `json:"data"`
	}
	must(call(http.MethodPost, *api+"/api/messages", reg.Token, map[string]string{
		"channelId": general.ID, "content": "hello from verify_api",
	}, &sent))

	var history struct {
		Messages []model.MessageView `json:"messages"`
	}
	must(call(http.MethodGet, *api+"/api/channels/"+general.ID+"/messages", reg.Token, nil, &history))
	if n := len(history.Messages); n == 0 || history.Messages[n-1].ID != sent.Data.ID {
		logging.Fatal().Int("messages", n).Msg("sent message is not the latest in history")
	}

	var react struct {
		Reactions []model.Reaction `json:"reactions"`
	}
	must(call(http.MethodPost, fmt.Sprintf("%s/api/messages/%d/react", *api, sent.Data.ID), reg.Token, map[string]string{"emoji": "👍"}, &react))
	logging.Info().Int("history", len(history.Messages)).Int("reactions", len(react.Reactions)).Msg("api verified")
}

func must(err error) {
	if err != nil {
		logging.Error().Err(err).Msg("verification failed")
		os.Exit(1)
	}
}
