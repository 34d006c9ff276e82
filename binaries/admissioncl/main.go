package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/client/cli"
	"github.com/twitter/admission/common/log/hooks"
)

// CLI binary to talk to the admission controller.
//	Supported commands: (see "-h" for all options)
//		list_queries [--state STATE]
//		get_query [query id]
//		cancel_query [query id]...
//		submit_query [query text | --file FILE]
//		cluster_status
//	Global flags:
//		--addr [<host:port> of the admission server]
//		--log_level [<error|info|debug> level and above should be logged]

func main() {
	log.AddHook(hooks.NewContextHook())

	if err := cli.NewCLIClient().Exec(); err != nil {
		log.Fatal("Error running admissioncl: ", err)
	}
}
