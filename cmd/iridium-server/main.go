package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/justengel/goiridium9602/pkg/config"
	"github.com/justengel/goiridium9602/pkg/emulator"
	"github.com/justengel/goiridium9602/pkg/sport"
	_ "github.com/justengel/goiridium9602/pkg/sport/all"
)

// Runs the modem emulator on a serial port. Every line typed on stdin is
// queued as an MT message and announced to the host with SBDRING; an empty
// line or "exit" quits.
func main() {
	log.SetLevel(log.DebugLevel)

	portName := flag.String("p", "", "serial port e.g. /dev/ttyUSB0, COM2")
	backend := flag.String("b", config.DefaultBackend, "serial backend: tarm, bugst, virtual")
	flag.Parse()

	port, err := sport.NewPort(*backend, sport.Config{Name: *portName})
	if err != nil {
		fmt.Printf("could not create the serial port : %v\n", err)
		os.Exit(1)
	}

	server := emulator.New(port)
	server.SetMessageHandler(func(content []byte) {
		log.Infof("mobile originated message : %q", content)
	})
	if err := server.Connect(); err != nil {
		fmt.Printf("could not connect to %v : %v\n", *portName, err)
		os.Exit(1)
	}
	defer server.Close()

	log.Infof("emulator running on %v, serial number %v", *portName, server.SerialNumber())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("Enter a message to send: ")
		if !scanner.Scan() {
			return
		}
		msg := scanner.Text()
		if msg == "" || msg == "exit" {
			return
		}
		if err := server.SendMessage([]byte(msg)); err != nil {
			log.Errorf("could not queue the message : %v", err)
		}
	}
}
