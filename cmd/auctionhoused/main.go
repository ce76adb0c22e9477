package main

import (
	"encoding/json"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/httpapi"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/service"
	"github.com/textileio/auctionhouse/cmd/common"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	golog "github.com/textileio/go-log/v2"
)

var (
	daemonName        = "auctionhoused"
	defaultConfigPath = filepath.Join(os.Getenv("HOME"), "."+daemonName)
	log               = golog.Logger(daemonName)
	v                 = viper.New()
)

var flags = []common.Flag{
	{Name: "control-addr", DefValue: ":5000", Description: "UDP control plane listen address"},
	{Name: "advertise-host", DefValue: "127.0.0.1", Description: "Host participants use to reach rendezvous listeners"},
	{Name: "rendezvous-host", DefValue: "0.0.0.0", Description: "Host rendezvous listeners bind"},
	{Name: "http-addr", DefValue: ":8080", Description: "Admin HTTP API listen address"},
	{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
	{Name: "workers", DefValue: 100, Description: "Maximum number of concurrently handled requests"},
	{Name: "tick", DefValue: time.Second, Description: "Length of one unit of auction time"},
	{Name: "finalize-timeout", DefValue: 2 * time.Minute, Description: "Deadline for both inform responses"},
	{Name: "notify-timeout", DefValue: 5 * time.Second, Description: "Timeout of each outbound message"},
	{Name: "decline-rate", DefValue: 0.05, Description: "Probability of declining an otherwise valid payment"},
	{Name: "env-file", DefValue: "", Description: "Optional dotenv file loaded before reading configuration"},
	{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
	{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
}

func init() {
	cobra.OnInitialize(func() {
		v.SetConfigType("json")
		v.SetConfigName("config")
		v.AddConfigPath(os.Getenv("AUCTIONHOUSE_PATH"))
		v.AddConfigPath(defaultConfigPath)
		_ = v.ReadInConfig()
	})

	common.ConfigureCLI(v, "AUCTIONHOUSE", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "auctionhoused runs a real-time auction exchange",
	Long: `auctionhoused runs a real-time auction exchange.

Sellers list items and buyers subscribe and bid over a UDP control plane.
When an auction closes with a winner, payment and shipping details are
exchanged over TCP before the sale completes.`,
	Args: cobra.ExactArgs(0),
	PersistentPreRun: func(c *cobra.Command, args []string) {
		err := common.LoadEnvFile(v.GetString("env-file"))
		common.CheckErrf("loading env file: %v", err)
		common.ExpandEnvVars(v, v.AllSettings())
		err = common.ConfigureLogging(v, []string{
			daemonName,
			"auctionhouse",
			"auctionhouse/service",
			"auctionhouse/api",
			"transport/udp",
			"transport/tcp",
		})
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		common.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config from %s: %s", v.ConfigFileUsed(), string(settings))

		err = common.SetupInstrumentation(v.GetString("metrics-addr"))
		common.CheckErrf("booting instrumentation: %v", err)

		fin := finalizer.NewFinalizer()

		hconf := house.DefaultConfig()
		hconf.Tick = v.GetDuration("tick")
		hconf.FinalizeTimeout = v.GetDuration("finalize-timeout")
		hconf.NotifyTimeout = v.GetDuration("notify-timeout")
		hconf.DeclineRate = v.GetFloat64("decline-rate")
		serv, err := service.New(service.Config{
			ControlAddr:    v.GetString("control-addr"),
			RendezvousHost: v.GetString("rendezvous-host"),
			AdvertiseHost:  v.GetString("advertise-host"),
			Workers:        v.GetInt("workers"),
			House:          hconf,
		})
		common.CheckErrf("starting service: %v", err)

		api, err := httpapi.NewServer(v.GetString("http-addr"), serv)
		common.CheckErrf("starting http server: %v", err)
		// The service stops before the admin API.
		fin.Add(api, serv)

		common.HandleInterrupt(func() {
			common.CheckErr(fin.Cleanupf("closing service: %v", nil))
		})
	},
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
