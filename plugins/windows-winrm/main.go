// Command windows-winrm is a get_data helper for the agent's external
// monitor loader (internal/loader): a declarative .mon usage-monitor
// config points its get_data field at this binary, and the loader shells
// it out once per poll and parses stdout as a JSON object keyed by
// source name, exactly the contract internal/loader/external.go expects.
//
// Target host and credentials come from environment variables rather
// than the batch-of-tasks STDIN protocol the teacher's plugin host used,
// since an external monitor here is one process invocation per
// collection, not a long-lived plugin process serving many targets.
package main

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/nmslite/plugins/windows-winrm/collector"
	"github.com/nmslite/plugins/windows-winrm/models"
	"github.com/nmslite/plugins/windows-winrm/winrm"
)

const defaultTimeout = 30 * time.Second

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	target := os.Getenv("WINRM_TARGET")
	if target == "" {
		log.Fatal("WINRM_TARGET is required")
	}

	port := 5985
	useHTTPS := os.Getenv("WINRM_HTTPS") == "1" || os.Getenv("WINRM_HTTPS") == "true"
	if useHTTPS {
		port = 5986
	}
	if v := os.Getenv("WINRM_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid WINRM_PORT %q: %v", v, err)
		}
		port = p
	}

	creds := models.Credentials{
		Username: os.Getenv("WINRM_USER"),
		Password: os.Getenv("WINRM_PASSWORD"),
		Domain:   os.Getenv("WINRM_DOMAIN"),
		UseHTTPS: useHTTPS,
	}

	client, err := winrm.NewClient(target, port, creds, defaultTimeout)
	if err != nil {
		log.Fatalf("winrm connect %s: %v", target, err)
	}
	defer client.Close()

	data, err := collector.Collect(client)
	if err != nil {
		log.Fatalf("collect %s: %v", target, err)
	}

	encoder := json.NewEncoder(os.Stdout)
	if err := encoder.Encode(data); err != nil {
		log.Fatalf("write output JSON: %v", err)
	}
}
