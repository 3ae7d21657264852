package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/justengel/goiridium9602/pkg/config"
	"github.com/justengel/goiridium9602/pkg/event"
	"github.com/justengel/goiridium9602/pkg/modem"
	_ "github.com/justengel/goiridium9602/pkg/sport/all"
)

const acquireWait = 120 * time.Second

func main() {
	log.SetLevel(log.DebugLevel)

	port := flag.String("p", "", "serial port e.g. /dev/ttyUSB0, COM2")
	backend := flag.String("b", config.DefaultBackend, "serial backend: tarm, bugst, virtual")
	configPath := flag.String("c", "", "ini config file path")
	replayPath := flag.String("replay", "", "replay a raw serial log file instead of connecting")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("could not load config : %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *port != "" {
		cfg.Serial.Name = *port
	}

	if *replayPath != "" {
		runReplay(*replayPath, cfg)
		return
	}

	communicator, err := cfg.NewCommunicator()
	if err != nil {
		fmt.Printf("could not create the communicator : %v\n", err)
		os.Exit(1)
	}
	events := event.Printer(nil)
	events.MessageReceived = func(content []byte) {
		log.Infof("message received : %q", content)
	}
	events.MessageReceiveFailed = func(msgLen int, content, checksum, calcCheck []byte) {
		log.Errorf("message failed : length %d received %d checksum %x calculated %x",
			msgLen, len(content), checksum, calcCheck)
	}
	communicator.SetEvents(events)

	if err := communicator.Connect(); err != nil {
		fmt.Printf("could not connect to %v : %v\n", cfg.Serial.Name, err)
		os.Exit(1)
	}
	defer communicator.Close()

	if sig, err := communicator.AcquireSignalQuality(acquireWait, acquireWait); err == nil {
		log.Infof("signal quality (0 - 5) : %d", sig)
	}
	if sysTime, err := communicator.AcquireSystemTime(acquireWait, acquireWait); err == nil {
		log.Infof("system time : %d", sysTime)
	}
	if sn, err := communicator.AcquireSerialNumber(acquireWait, acquireWait); err == nil {
		log.Infof("serial number : %v", sn)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	messages := make(chan []byte)
	go func() {
		for {
			msg, err := communicator.AcquireMessage(acquireWait, acquireWait)
			if err != nil {
				if errors.Is(err, modem.ErrNoResponse) {
					// The session reported no waiting message, ask again.
					continue
				}
				return
			}
			messages <- msg
		}
	}()

	for {
		select {
		case msg := <-messages:
			log.Infof("message acquired : %q", msg)
		case <-interrupt:
			return
		}
	}
}

func runReplay(path string, cfg *config.Config) {
	file, err := os.Open(path)
	if err != nil {
		fmt.Printf("could not open log file : %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	communicator := modem.New(nil)
	cfg.Apply(communicator)
	communicator.SetEvents(event.Printer(nil))
	err = modem.Replay(file, communicator, func(chunk []byte) {
		fmt.Printf("%q\n", chunk)
	})
	if err != nil {
		fmt.Printf("replay failed : %v\n", err)
		os.Exit(1)
	}
}
