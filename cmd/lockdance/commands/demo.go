package commands

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lockdance"
	"github.com/opd-ai/lockdance/audit"
	"github.com/opd-ai/lockdance/backend"
	"github.com/opd-ai/lockdance/backend/sim"
	"github.com/opd-ai/lockdance/backend/terminal"
	"github.com/opd-ai/lockdance/backend/tone"
	"github.com/opd-ai/lockdance/dance"
)

func demoCmd() *cobra.Command {
	var (
		seed, salt string
		project    string
		rounds     int
		tamper     int
		deny       bool
		pcmPath    string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run both sides of a Dance in this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rounds == 0 {
				rounds = opts.Rounds
			}
			root, err := rootFromFlags(seed, salt)
			if err != nil {
				return err
			}
			defer root.Wipe()

			issued, err := lockdance.Issue(root, project, rounds)
			if err != nil {
				return err
			}
			defer issued.Wipe()

			var oracle audit.Oracle = audit.AllowAll
			if deny {
				oracle = audit.DenyAll
			}

			w := cmd.OutOrStdout()
			a, b := sim.NewPair("key", "lock")
			defer a.Close()
			defer b.Close()
			if tamper >= 0 {
				a.SetTamper(corruptAt(tamper))
			}

			keyOut := backend.NewTee(a, terminal.New(w, "key ", opts.Color))
			lockOut := backend.NewTee(b, terminal.New(w, "lock", opts.Color))
			if pcmPath != "" {
				f, err := os.Create(pcmPath)
				if err != nil {
					return err
				}
				defer f.Close()
				synth, err := tone.NewSynth(tone.SampleRate, tone.DefaultGain)
				if err != nil {
					return err
				}
				keyOut = append(keyOut, tone.NewDevice(f, synth, opts.TimingProfile().AudioDuration()))
			}

			fmt.Fprintf(w, "Commitment: %s\n", terminal.RenderPattern(issued.Lock.Commitment, opts.Color))

			ctx := cmd.Context()
			var (
				wg       sync.WaitGroup
				lockSess *dance.Session
				lockErr  error
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				lockSess, lockErr = lockdance.Dance(ctx, opts, issued.Lock, oracle, issued.Conditions(nil), lockOut, b)
			}()
			start := time.Now()
			keySess, keyErr := lockdance.Dance(ctx, opts, issued.Key, oracle, issued.Conditions(nil), keyOut, a)
			wg.Wait()

			report(w, "key ", keySess, keyErr)
			report(w, "lock", lockSess, lockErr)
			fmt.Fprintf(w, "Elapsed: %s\n", time.Since(start).Round(time.Millisecond))
			if keyErr != nil {
				return keyErr
			}
			return lockErr
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "seed phrase (random root when empty)")
	cmd.Flags().StringVar(&salt, "salt", "", "salt for --seed")
	cmd.Flags().StringVar(&project, "project", "demo", "project name")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "fragment rounds (default from options)")
	cmd.Flags().IntVar(&tamper, "tamper", -1, "corrupt the n-th fragment in flight")
	cmd.Flags().BoolVar(&deny, "deny", false, "use an oracle that denies every Dance")
	cmd.Flags().StringVar(&pcmPath, "pcm", "", "write the key holder's audio as S16_LE 48kHz PCM to this file")
	return cmd
}

// corruptAt flips the visual op of the n-th fragment sent in either
// direction. The pair serializes calls.
func corruptAt(n int) sim.Tamper {
	seen := 0
	return func(_ int, in dance.Instruction) (dance.Instruction, bool) {
		if in.Signal() != dance.SignalNone {
			return in, true
		}
		if seen == n {
			in.Visual ^= 1
		}
		seen++
		return in, true
	}
}

func report(w io.Writer, label string, s *dance.Session, err error) {
	if s == nil {
		fmt.Fprintf(w, "%s: %v\n", label, err)
		return
	}
	st := s.State()
	if err != nil {
		fmt.Fprintf(w, "%s: %s after round %d: %v\n", label, st.Phase, st.Round, err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, st.Phase)
}
