/******************************************************************************
 *
 *  Description :
 *
 *    Minimal command line chat client. Connects, authenticates, attaches to
 *    a topic and relays between the terminal and the server.
 *
 *****************************************************************************/

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	jcr "github.com/tinode/jsonco"

	"github.com/tinode/gosdk/tinode"
	"github.com/tinode/gosdk/tinode/drafty"
	"github.com/tinode/gosdk/tinode/logs"
	"github.com/tinode/gosdk/tinode/store"
)

type configType struct {
	// Server address, e.g. "wss://api.tinode.co/v0/channels?apikey=...".
	Addr string `json:"addr"`
	// Login credentials for the basic scheme.
	Login    string `json:"login"`
	Password string `json:"password"`
	// Reported device language.
	Lang string `json:"lang"`
}

func main() {
	configFile := flag.String("config", "tncli.conf", "Path to config file.")
	addr := flag.String("addr", "", "Server address; overrides the config file.")
	login := flag.String("login", "", "Login; overrides the config file.")
	password := flag.String("password", "", "Password; overrides the config file.")
	topicName := flag.String("topic", "me", "Topic to attach to.")
	reqTimeout := flag.Duration("timeout", 10*time.Second, "Per-request timeout.")
	flag.Parse()

	var config configType
	if file, err := os.Open(*configFile); err == nil {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	} else if *addr == "" {
		logs.Err.Fatal("Failed to read config file: ", err)
	}

	if *addr != "" {
		config.Addr = *addr
	}
	if *login != "" {
		config.Login = *login
	}
	if *password != "" {
		config.Password = *password
	}

	sess := tinode.NewSession(tinode.Config{
		Addr:          config.Addr,
		Lang:          config.Lang,
		AutoReconnect: true,
		Store:         store.NewMemory(),
	}, &tinode.SessionListener{
		OnDisconnect: func(err error) {
			logs.Warn.Println("connection lost:", err)
		},
		OnAutoReconnect: func(delay time.Duration, attempt int) {
			logs.Info.Println("reconnecting in", delay, "attempt", attempt)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), *reqTimeout)
	if _, err := sess.Connect(ctx); err != nil {
		logs.Err.Fatal("Failed to connect: ", err)
	}
	cancel()
	defer sess.Close()

	if config.Login != "" {
		ctx, cancel = context.WithTimeout(context.Background(), *reqTimeout)
		if _, err := sess.LoginBasic(ctx, config.Login, config.Password); err != nil {
			logs.Err.Fatal("Failed to login: ", err)
		}
		cancel()
		fmt.Println("logged in as", sess.CurrentUser())
	}

	topic := sess.Topic(*topicName)
	topic.SetListener(&tinode.TopicListener{
		OnData: func(msg *tinode.Message) {
			txt, err := drafty.ToPlainText(msg.Content)
			if err != nil {
				txt = "<unreadable content>"
			}
			fmt.Printf("[%s] %s: %s\n", topic.Name(), msg.From, txt)
			topic.NoteRead(msg.SeqId)
		},
		OnContactUpdate: func(what, src string) {
			fmt.Printf("contact %s: %s\n", src, what)
		},
	})

	ctx, cancel = context.WithTimeout(context.Background(), *reqTimeout)
	_, err := topic.Subscribe(ctx, topic.StartMetaQuery().WithLaterDesc().WithLaterSub(0).WithLaterData(24).Build(), nil)
	cancel()
	if err != nil {
		logs.Err.Fatal("Failed to subscribe: ", err)
	}
	fmt.Println("attached to", topic.Name())

	// Terminal input: every non-empty line is published as a message.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		ctx, cancel = context.WithTimeout(context.Background(), *reqTimeout)
		_, err := topic.Publish(ctx, line, false)
		cancel()
		if err != nil {
			logs.Warn.Println("publish failed:", err)
		}
	}
}
