package main

import (
	"code.cloudfoundry.org/bytefmt"
	"github.com/docopt/docopt-go"
)

var usage = `mbin - build, sign and simulate mbin firmware update images

Usage:
  mbin build <output> <input>... [--key=<path> --compress --segment-size=<size>]
  mbin keygen <name>
  mbin inspect <image> [--type=<pattern> --config=<path>]
  mbin verify <image> [--pubkey=<path> --digest --config=<path>]
  mbin stage <image> [--config=<path>]
  mbin boot [--config=<path> --verbose]
  mbin -h | --help

Inputs are either ELF files or raw binaries with a load address appended,
for example app.bin@0x08010000.

Options:
  -k --key=<path>           Sign the image with this private key.
  -p --pubkey=<path>        Verify against this public key instead of the profile key.
  -z --compress             Store segments compressed.
  -s --segment-size=<size>  The maximum segment size [default: 32K].
  -t --type=<pattern>       Only list fields with a matching type [default: *].
  -d --digest               Also check the digest recorded by stage.
  -c --config=<path>        The board profile [default: board.yaml].
  -v --verbose              Log every state change.
  -h --help                 Show this screen.
`

type command struct {
	// commands
	cBuild   bool
	cKeygen  bool
	cInspect bool
	cVerify  bool
	cStage   bool
	cBoot    bool

	// arguments
	aOutput string
	aInputs []string
	aName   string
	aImage  string

	// options
	oKey         string
	oPubKey      string
	oCompress    bool
	oSegmentSize int
	oType        string
	oDigest      bool
	oConfig      string
	oVerbose     bool
}

func parseCommand() *command {
	a, err := docopt.Parse(usage, nil, true, "", false)
	exitIfSet(err)

	return &command{
		// commands
		cBuild:   getBool(a["build"]),
		cKeygen:  getBool(a["keygen"]),
		cInspect: getBool(a["inspect"]),
		cVerify:  getBool(a["verify"]),
		cStage:   getBool(a["stage"]),
		cBoot:    getBool(a["boot"]),

		// arguments
		aOutput: getString(a["<output>"]),
		aInputs: getStrings(a["<input>"]),
		aName:   getString(a["<name>"]),
		aImage:  getString(a["<image>"]),

		// options
		oKey:         getString(a["--key"]),
		oPubKey:      getString(a["--pubkey"]),
		oCompress:    getBool(a["--compress"]),
		oSegmentSize: getSize(a["--segment-size"]),
		oType:        getString(a["--type"]),
		oDigest:      getBool(a["--digest"]),
		oConfig:      getString(a["--config"]),
		oVerbose:     getBool(a["--verbose"]),
	}
}

func getBool(field interface{}) bool {
	val, _ := field.(bool)
	return val
}

func getString(field interface{}) string {
	str, _ := field.(string)
	return str
}

func getStrings(field interface{}) []string {
	list, _ := field.([]string)
	return list
}

func getSize(field interface{}) int {
	n, _ := bytefmt.ToBytes(getString(field))
	return int(n)
}
