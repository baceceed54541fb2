package microapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/microapp-go/core/header"
)

// Step is one named unit of a plan. Pre decides whether the step applies to
// the session; a nil Pre always applies.
type Step struct {
	Name string
	Pre  func(s *Session) bool
	Run  func(ctx context.Context, s *Session) error
}

// Session carries state between the steps of one run.
type Session struct {
	Address string
	Actions Action
	Index   uint8
	Image   []byte

	// Info is filled in by the info step.
	Info *Info
	// ChunkSize is the negotiated chunk size.
	ChunkSize int
	// Completed lists the names of the steps that ran successfully.
	Completed []string
	// Warnings collects problems that did not stop the plan.
	Warnings []error
}

// Uploader runs action plans against a Device. Only one plan runs at a time.
type Uploader struct {
	dev Device
	cfg Config
	log *slog.Logger
	mu  sync.Mutex
}

// NewUploader creates an Uploader for dev.
func NewUploader(dev Device, opts ...Option) *Uploader {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		dev: dev,
		cfg: cfg,
		log: logger.WithGroup("microapp"),
	}
}

// Upload runs the full install sequence for image.
func (u *Uploader) Upload(ctx context.Context, address string, image []byte) (*Session, error) {
	return u.Run(ctx, address, ActionAdd, image)
}

// Run executes the plan for actions. The image may be nil when the actions
// do not need one. Once connected, the device is always disconnected before
// Run returns.
func (u *Uploader) Run(ctx context.Context, address string, actions Action, image []byte) (*Session, error) {
	if !u.mu.TryLock() {
		return nil, ErrBusy
	}
	defer u.mu.Unlock()

	if actions == 0 {
		return nil, ErrNoActions
	}
	if actions.NeedsImage() && len(image) == 0 {
		return nil, &StepError{Step: "check image", Err: errors.New("image is empty")}
	}

	s := &Session{
		Address: address,
		Actions: actions,
		Index:   u.cfg.AppIndex,
		Image:   image,
	}

	if actions.NeedsImage() {
		if err := u.checkImage(s); err != nil {
			return s, &StepError{Step: "check image", Err: err}
		}
	}

	steps := u.Plan()
	u.log.Debug("running plan", "actions", actions, "index", s.Index, "address", address)

	if err := u.runStep(ctx, s, steps[0], 0, len(steps)); err != nil {
		return s, err
	}

	var runErr error
	for i, step := range steps[1 : len(steps)-1] {
		if runErr = u.runStep(ctx, s, step, i+1, len(steps)); runErr != nil {
			break
		}
	}

	// Disconnect even if the plan failed or ctx was cancelled.
	last := steps[len(steps)-1]
	discErr := u.runStep(context.WithoutCancel(ctx), s, last, len(steps)-1, len(steps))
	if runErr != nil {
		if discErr != nil {
			u.log.Warn("disconnect after failure", "error", discErr)
		}
		return s, runErr
	}
	return s, discErr
}

// Plan returns the ordered steps. The first step connects and the last
// disconnects; the steps between are filtered by their preconditions.
func (u *Uploader) Plan() []Step {
	return []Step{
		{Name: "connect", Run: u.connect},
		{Name: "query info", Run: u.queryInfo},
		{Name: "check capacity", Pre: needsImage, Run: u.checkCapacity},
		{Name: "remove", Pre: u.slotHasData, Run: u.remove},
		{Name: "upload", Pre: has(ActionUpload), Run: u.upload},
		{Name: "validate", Pre: has(ActionValidate), Run: u.validate},
		{Name: "enable", Pre: has(ActionEnable), Run: u.enable},
		{Name: "disable", Pre: has(ActionDisable), Run: u.disable},
		{Name: "disconnect", Run: u.disconnect},
	}
}

func (u *Uploader) runStep(ctx context.Context, s *Session, step Step, i, total int) error {
	if step.Pre != nil && !step.Pre(s) {
		u.log.Debug("skipping step", "step", step.Name)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &StepError{Step: step.Name, Err: err}
	}
	u.report(Progress{Step: step.Name, Current: i, Total: total})
	u.log.Info("step", "step", step.Name)
	if err := step.Run(ctx, s); err != nil {
		return &StepError{Step: step.Name, Err: err}
	}
	s.Completed = append(s.Completed, step.Name)
	return nil
}

func (u *Uploader) report(p Progress) {
	if u.cfg.Progress != nil {
		u.cfg.Progress(p)
	}
}

func has(a Action) func(*Session) bool {
	return func(s *Session) bool { return s.Actions.Has(a) }
}

func needsImage(s *Session) bool {
	return s.Actions.NeedsImage()
}

func (u *Uploader) slotHasData(s *Session) bool {
	return s.Actions.Has(ActionRequest) && s.Info != nil && s.Info.Slot(s.Index).HasData
}

// checkImage validates the image header locally when a codec is configured.
func (u *Uploader) checkImage(s *Session) error {
	if u.cfg.Codec == nil {
		return nil
	}
	img, err := header.ParseImage(u.cfg.Codec, s.Image, false)
	if err != nil {
		return err
	}

	var problems []error
	if !img.SizeOK() {
		problems = append(problems, &header.SizeMismatchError{Declared: int(img.Header.Size), Actual: len(s.Image)})
	}
	if err := img.Validate().Err(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) == 0 {
		u.log.Debug("image header ok", "header", img.Header.String())
		return nil
	}

	err = errors.Join(problems...)
	if u.cfg.ChecksumPolicy == PolicyWarn {
		u.log.Warn("image header check failed, uploading anyway", "error", err)
		s.Warnings = append(s.Warnings, err)
		return nil
	}
	return err
}

func (u *Uploader) connect(ctx context.Context, s *Session) error {
	return u.dev.Connect(ctx, s.Address)
}

func (u *Uploader) queryInfo(ctx context.Context, s *Session) error {
	info, err := u.dev.GetMicroappInfo(ctx)
	if err != nil {
		return err
	}
	s.Info = info
	u.log.Debug("device info",
		"max_apps", info.MaxApps,
		"max_app_size", info.MaxAppSize,
		"max_chunk_size", info.MaxChunkSize)
	return nil
}

func (u *Uploader) checkCapacity(_ context.Context, s *Session) error {
	info := s.Info
	if int(s.Index) >= info.MaxApps || len(s.Image) > info.MaxAppSize {
		return &CapacityError{
			Index:      s.Index,
			MaxApps:    info.MaxApps,
			Size:       len(s.Image),
			MaxAppSize: info.MaxAppSize,
		}
	}
	return nil
}

func (u *Uploader) remove(ctx context.Context, s *Session) error {
	u.log.Info("removing existing data", "index", s.Index)
	return u.dev.RemoveMicroapp(ctx, s.Index)
}

func (u *Uploader) upload(ctx context.Context, s *Session) error {
	s.ChunkSize = min(u.cfg.MaxChunkSize, s.Info.MaxChunkSize)
	if s.ChunkSize <= 0 {
		return fmt.Errorf("device reports max chunk size %d", s.Info.MaxChunkSize)
	}

	if r, ok := u.dev.(ChunkReporter); ok {
		r.SetChunkCallback(func(sent, total int) {
			u.report(Progress{Step: "upload", Current: sent, Total: total, Bytes: true})
		})
		defer r.SetChunkCallback(nil)
	}

	u.log.Info("uploading", "index", s.Index, "size", len(s.Image), "chunk_size", s.ChunkSize)
	return u.dev.UploadMicroapp(ctx, s.Image, s.Index, s.ChunkSize)
}

func (u *Uploader) validate(ctx context.Context, s *Session) error {
	return u.dev.ValidateMicroapp(ctx, s.Index)
}

func (u *Uploader) enable(ctx context.Context, s *Session) error {
	return u.dev.EnableMicroapp(ctx, s.Index)
}

func (u *Uploader) disable(ctx context.Context, s *Session) error {
	return u.dev.DisableMicroapp(ctx, s.Index)
}

func (u *Uploader) disconnect(ctx context.Context, _ *Session) error {
	return u.dev.Disconnect(ctx)
}
