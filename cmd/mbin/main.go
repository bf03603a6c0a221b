package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/ryanuber/go-glob"
	"github.com/samber/lo"

	"github.com/moffa90/go-mbin/bootloader"
	"github.com/moffa90/go-mbin/config"
	"github.com/moffa90/go-mbin/flash"
	"github.com/moffa90/go-mbin/hal"
	"github.com/moffa90/go-mbin/mbin"
	"github.com/moffa90/go-mbin/retcode"
	"github.com/moffa90/go-mbin/signature"
	"github.com/moffa90/go-mbin/store"
)

// simulated devices blink a halted code this many times before exiting
const simHaltCycles = 3

var out io.Writer = os.Stdout

func main() {
	// parse command
	cmd := parseCommand()

	// run desired command
	if cmd.cBuild {
		exitIfSet(build(cmd))
	} else if cmd.cKeygen {
		exitIfSet(keygen(cmd))
	} else if cmd.cInspect {
		exitIfSet(inspect(cmd))
	} else if cmd.cVerify {
		exitIfSet(verify(cmd))
	} else if cmd.cStage {
		exitIfSet(stage(cmd))
	} else if cmd.cBoot {
		exitIfSet(boot(cmd))
	}
}

func build(cmd *command) error {
	// read signing key
	var key *signature.Key
	if cmd.oKey != "" {
		data, err := os.ReadFile(cmd.oKey)
		if err != nil {
			return err
		}
		key, err = signature.ParsePrivateKey(data)
		if err != nil {
			return err
		}
	}

	// add segments
	b := mbin.NewBuilder(cmd.oSegmentSize)
	for _, input := range cmd.aInputs {
		chunks, err := readInput(input)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}

		for _, c := range chunks {
			if cmd.oCompress {
				b.AddCompressedSegment(c.addr, c.data)
			} else {
				b.AddSegment(c.addr, c.data)
			}
			_, _ = fmt.Fprintf(out, "added %s at 0x%08X\n", humanize.Bytes(uint64(len(c.data))), c.addr)
		}
	}

	// finish image
	var img []byte
	var err error
	if key != nil {
		img, err = b.FinishSigned(key)
	} else {
		img, err = b.Finish()
	}
	if err != nil {
		return err
	}

	// refuse images the bootloader would reject
	_, err = mbin.Parse(img, mbin.Options{
		Region:         mbin.FullRegion,
		MaxSegmentSize: cmd.oSegmentSize,
	}, nil)
	if err != nil {
		return err
	}

	// write image
	err = os.WriteFile(cmd.aOutput, img, 0o644)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "wrote %s (%s, signed: %t)\n", cmd.aOutput, humanize.Bytes(uint64(len(img))), key != nil)

	return nil
}

func keygen(cmd *command) error {
	// generate key
	key, err := signature.GenerateKey(nil)
	if err != nil {
		return err
	}

	// encode key
	priv, err := signature.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	pub, err := signature.MarshalPublicKey(key.Public())
	if err != nil {
		return err
	}

	// write files
	err = os.WriteFile(cmd.aName+".key", priv, 0o600)
	if err != nil {
		return err
	}
	err = os.WriteFile(cmd.aName+".pub", pub, 0o644)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "wrote %s.key and %s.pub\n", cmd.aName, cmd.aName)

	return nil
}

// parseOptions returns the validation options of the profile at path, or
// options accepting any address when there is no profile.
func parseOptions(path string) (mbin.Options, *config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return mbin.Options{Region: mbin.FullRegion}, config.Default(), nil
	} else if err != nil {
		return mbin.Options{}, nil, err
	}
	return cfg.ParseOptions(), cfg, nil
}

func inspect(cmd *command) error {
	// read image
	data, err := os.ReadFile(cmd.aImage)
	if err != nil {
		return err
	}

	opts, _, err := parseOptions(cmd.oConfig)
	if err != nil {
		return err
	}

	// walk fields
	var fields []*mbin.Header
	p := mbin.NewParser(data, opts)
	var walkErr error
	for {
		h, _, err := p.NextField()
		if err == io.EOF {
			break
		} else if err != nil {
			walkErr = err
			break
		}
		fields = append(fields, h)
	}

	// show matching fields
	matching := lo.Filter(fields, func(h *mbin.Header, _ int) bool {
		return glob.Glob(cmd.oType, h.Type.String())
	})

	tbl := newTable("OFFSET", "TYPE", "LENGTH", "ADDRESS", "SIZE")
	for _, h := range matching {
		addr, size := "-", "-"
		if h.Type.Segment() {
			addr = fmt.Sprintf("0x%08X", h.Address)
			size = humanize.Bytes(uint64(h.Size))
		}
		tbl.add(fmt.Sprintf("%d", h.Offset), h.Type.String(), fmt.Sprintf("%d", h.Length), addr, size)
	}
	tbl.print(out)

	if walkErr != nil {
		return walkErr
	}

	// check decompression and totals
	sum, err := mbin.Parse(data, opts, nil)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "\nsegments: %d, skipped: %d, payload: %s, signed: %t\n",
		len(sum.Segments), sum.Skipped, humanize.Bytes(uint64(sum.PayloadBytes)), sum.Signed())

	return nil
}

func verify(cmd *command) error {
	// read image
	data, err := os.ReadFile(cmd.aImage)
	if err != nil {
		return retcode.Wrap("load image", retcode.ErrFileNotFound, err)
	}

	opts, cfg, err := parseOptions(cmd.oConfig)
	if err != nil {
		return err
	}

	// prepare verifier
	var v signature.Verifier

	keyPath := lo.Ternary(cmd.oPubKey != "", cmd.oPubKey, cfg.PublicKey)
	if keyPath != "" {
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return err
		}
		v.PublicKey, err = signature.ParsePublicKey(pem)
		if err != nil {
			return err
		}
	}

	if cmd.oDigest {
		records, err := store.OpenFile(cfg.Paths.Store)
		if err != nil {
			return err
		}
		v.Digest, _, err = records.ReadBytes(store.KeyImageSignature)
		if err != nil {
			return err
		}
	}

	// parse and verify
	sum, err := mbin.Parse(data, opts, nil)
	if err != nil {
		return err
	}
	img, err := v.Verify(data, sum)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "%s: %s (signed: %t, stored digest: %t)\n",
		cmd.aImage, retcode.OK, img.Signed(), img.StoredDigest())

	return nil
}

func stage(cmd *command) error {
	cfg, err := loadConfig(cmd.oConfig, false)
	if err != nil {
		return err
	}

	// read image
	data, err := os.ReadFile(cmd.aImage)
	if err != nil {
		return err
	}

	// warn about images the bootloader will reject
	_, err = mbin.Parse(data, cfg.ParseOptions(), nil)
	if err != nil {
		_, _ = fmt.Fprintf(out, "warning: %s\n", err)
	}

	// copy into slot
	name := filepath.Base(cmd.aImage)
	err = os.MkdirAll(cfg.Paths.Images, 0o755)
	if err != nil {
		return err
	}
	err = os.WriteFile(filepath.Join(cfg.Paths.Images, name), data, 0o644)
	if err != nil {
		return err
	}

	// announce update
	records, err := store.OpenFile(cfg.Paths.Store)
	if err != nil {
		return err
	}
	for _, key := range []string{store.KeyUpdateAttempts, store.KeyBootloaderError} {
		err = records.Delete(key)
		if err != nil {
			return err
		}
	}
	err = records.WriteBytes(store.KeyImageSignature, signature.Digest(data))
	if err != nil {
		return err
	}
	err = records.WriteString(store.KeyUpdateImage, name)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "staged %s (%s)\n", name, humanize.Bytes(uint64(len(data))))

	return nil
}

func boot(cmd *command) error {
	cfg, err := loadConfig(cmd.oConfig, false)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.oVerbose)

	// open flash
	dev, err := flash.OpenMappedDevice(cfg.Paths.Flash, cfg.Flash.Base, uint32(cfg.Flash.Size), uint32(cfg.Flash.Block))
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	// open store
	records, err := store.OpenFile(cfg.Paths.Store)
	if err != nil {
		return err
	}

	// prepare options
	opts := []bootloader.Option{
		bootloader.WithLogger(logger),
		bootloader.WithMaxSegmentSize(int(cfg.MaxSegmentSize)),
		bootloader.WithMaxUpdateAttempts(cfg.MaxUpdateAttempts),
		bootloader.WithPollTimeout(cfg.PollTimeout),
		bootloader.WithResetAfterUpdate(cfg.ResetAfterUpdate),
		bootloader.WithHaltCycles(simHaltCycles),
		bootloader.WithVersion(cfg.Version),
		bootloader.WithProgressCallback(func(p bootloader.Progress) {
			if p.State == bootloader.StateProgramming && p.Segment > 0 {
				_, _ = fmt.Fprintf(out, "programmed segment %d/%d (%s)\n",
					p.Segment, p.TotalSegments, humanize.Bytes(uint64(p.BytesWritten)))
			}
		}),
	}
	if cfg.PublicKey != "" {
		data, err := os.ReadFile(cfg.PublicKey)
		if err != nil {
			return err
		}
		pub, err := signature.ParsePublicKey(data)
		if err != nil {
			return err
		}
		opts = append(opts, bootloader.WithPublicKey(pub))
	}

	// run bootloader
	bl := bootloader.New(bootloader.Board{
		Application: cfg.Region(),
		Flash:       dev,
		Clock:       hal.SleepClock{},
		LED:         &hal.LogIndicator{Logger: logger},
		Platform:    &hal.SimPlatform{Logger: logger},
		Store:       records,
		Images:      os.DirFS(cfg.Paths.Images),
	}, opts...)
	res := bl.Run()

	_, _ = fmt.Fprintf(out, "%s (state: %s, attempts: %d, updated: %t, halted: %t)\n",
		res.Code, res.State, res.Attempts, res.Updated, res.Halted)

	if res.Code != retcode.OK {
		return res.Err
	}

	return nil
}
