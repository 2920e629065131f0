// iscpipe is a headless driver for the stereo pipeline controller:
//
//	iscpipe live   [--model XC] [--pipeline pipeline.yaml] [--frames N]
//	iscpipe record [--model XC] [--pipeline pipeline.yaml] [--frames N]
//	iscpipe play   --file <raw.dat> [--frames N]
//	iscpipe info   --file <raw.dat>
//
// live and record run against the simulated camera; real deployments bind
// a vendor driver through the pipeline API instead. The pipeline shape is
// read from a YAML file when present; flags override nothing else.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"iscpipe/camera"
	"iscpipe/camera/cameratest"
	"iscpipe/config"
	"iscpipe/frame"
	"iscpipe/pipeline"
	"iscpipe/record"
)

// pipelineFile mirrors PipelineConfig in configuration-file form.
type pipelineFile struct {
	Grab            string `yaml:"grab"`
	Color           string `yaml:"color"`
	RawCapture      bool   `yaml:"rawCapture"`
	SWStereo        bool   `yaml:"swStereo"`
	FrameDecoder    bool   `yaml:"frameDecoder"`
	DisparityFilter bool   `yaml:"disparityFilter"`
	WaitTime        string `yaml:"waitTime"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	model := fs.String("model", "XC", "camera model (VM, XC, 4K, 4KA, 4KJ)")
	pipelinePath := fs.String("pipeline", "pipeline.yaml", "pipeline description file")
	file := fs.String("file", "", "raw file for play/info")
	frames := fs.Int("frames", 100, "frames to run before stopping")
	fs.Parse(os.Args[2:])

	var err error
	switch cmd {
	case "live":
		err = runSession(*model, *pipelinePath, *frames, false, "")
	case "record":
		err = runSession(*model, *pipelinePath, *frames, true, "")
	case "play":
		err = runSession(*model, *pipelinePath, *frames, false, *file)
	case "info":
		err = runInfo(*file)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: iscpipe <live|record|play|info> [flags]")
}

// loadPipeline reads the pipeline description, falling back to a decoded
// parallax capture when the file is absent.
func loadPipeline(path string) (pipeline.PipelineConfig, error) {
	cfg := pipeline.PipelineConfig{
		Grab:            camera.GrabParallax,
		RawCapture:      true,
		FrameDecoder:    true,
		DisparityFilter: true,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read pipeline file: %w", err)
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return cfg, fmt.Errorf("parse pipeline file: %w", err)
	}

	switch pf.Grab {
	case "", "parallax":
		cfg.Grab = camera.GrabParallax
	case "corrected":
		cfg.Grab = camera.GrabCorrected
	case "before-correct":
		cfg.Grab = camera.GrabBeforeCorrect
	case "bayer-s0":
		cfg.Grab = camera.GrabBayerS0
	case "bayer-s1":
		cfg.Grab = camera.GrabBayerS1
	default:
		return cfg, fmt.Errorf("unknown grab mode %q", pf.Grab)
	}
	if pf.Color == "on" {
		cfg.Color = camera.ColorOn
	}
	cfg.RawCapture = pf.RawCapture
	cfg.SWStereo = pf.SWStereo
	cfg.FrameDecoder = pf.FrameDecoder
	cfg.DisparityFilter = pf.DisparityFilter
	if pf.WaitTime != "" {
		d, err := time.ParseDuration(pf.WaitTime)
		if err != nil {
			return cfg, fmt.Errorf("invalid waitTime %q: %w", pf.WaitTime, err)
		}
		cfg.WaitTime = d
	}
	return cfg, nil
}

func runSession(model, pipelinePath string, frames int, recordRun bool, playFile string) error {
	host := config.Load()
	pcfg, err := loadPipeline(pipelinePath)
	if err != nil {
		return err
	}

	m := camera.ParseModel(model)
	opts := pipeline.Options{
		Model:          m,
		Host:           host,
		EnableDataProc: true,
	}
	if playFile == "" {
		drv := cameratest.New(m)
		drv.Interval = 10 * time.Millisecond
		opts.Driver = drv
	} else {
		pcfg.Playback = true
		pcfg.PlaybackFile = playFile
	}
	pcfg.Record = recordRun

	ctl := pipeline.New()
	if err := ctl.Initialize(opts); err != nil {
		return err
	}
	defer func() {
		if err := ctl.Terminate(); err != nil {
			log.Println("terminate:", err)
		}
	}()

	if err := ctl.Start(pcfg); err != nil {
		return err
	}
	defer func() {
		if err := ctl.Stop(); err != nil {
			log.Println("stop:", err)
		}
	}()

	spec := ctl.Spec()
	log.Printf("session: model=%v %dx%d b=%.3f bf=%.3f dinf=%.3f",
		spec.Model, spec.WidthMax, spec.HeightMax, spec.BaseLength, spec.BF, spec.DInf)

	table := camera.TableFor(spec.Model)
	if table == nil {
		table = camera.TableFor(camera.ModelVM)
	}
	set := frame.NewSet(table)
	var last uint64
	seen := 0
	deadline := time.Now().Add(time.Duration(frames) * 200 * time.Millisecond)
	for seen < frames && time.Now().Before(deadline) {
		if err := ctl.GetCameraData(set); err != nil {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if set.Latest.Number == last {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		last = set.Latest.Number
		seen++
		if seen%30 == 0 {
			logFrame(ctl, set)
		}
		if st := ctl.Status(); st.PlayStatus == record.ReadEnded {
			break
		}
	}

	st := ctl.Status()
	log.Printf("session: %d frames, dropped=%d, decode mismatches=%d",
		seen, st.DroppedFrames, st.DecodeMismatches)
	if st.Recorder != nil {
		log.Printf("recorded: %s (%d frames, %d bytes, crc %04x)",
			st.Recorder.Path, st.Recorder.Frames, st.Recorder.Bytes, st.Recorder.PayloadCRC)
	}
	return nil
}

func logFrame(ctl *pipeline.Controller, set *frame.Set) {
	d := set.Latest
	line := fmt.Sprintf("frame %d: %dx%d", d.Number, d.P1.Width, d.P1.Height)
	if !d.Depth.Empty() {
		cx, cy := d.Depth.Width/2, d.Depth.Height/2
		if disp, dist, err := ctl.GetPositionDepth(cx, cy, set, frame.SlotLatest); err == nil {
			line += fmt.Sprintf(" centre d=%.2fpx z=%.2fm", disp, dist)
		}
	}
	log.Println(line)
}

func runInfo(path string) error {
	if path == "" {
		return fmt.Errorf("info: --file is required")
	}
	ctl := pipeline.New()
	hdr, info, err := ctl.GetFileInformation(path)
	if err != nil {
		return err
	}
	fmt.Printf("file:     %s\n", path)
	fmt.Printf("model:    %v\n", hdr.Model)
	fmt.Printf("grab:     %v  color: %v  shutter: %v\n", hdr.Grab, hdr.Color, hdr.Shutter)
	fmt.Printf("geometry: %dx%d\n", hdr.Width, hdr.Height)
	fmt.Printf("camera:   b=%.4f bf=%.4f dinf=%.4f\n", hdr.BaseLength, hdr.BF, hdr.DInf)
	fmt.Printf("started:  %s (interval hint %dms)\n", hdr.StartUTC.Format(time.RFC3339), hdr.IntervalMS)
	fmt.Printf("frames:   %d (%d..%d) over %s\n", info.TotalFrames, info.FirstNumber, info.LastNumber, info.Duration)
	fmt.Printf("payload:  %d bytes, crc %04x\n", info.Bytes, info.PayloadCRC)
	return nil
}
