package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tape/internal/tap"
)

// runHarness registers tests on a fresh harness, runs it and parses the
// output back.
func runHarness(t *testing.T, register func(h *Harness), opts ...Option) (tap.Summary, *tap.Report, string) {
	t.Helper()

	var buf bytes.Buffer
	h := New(append([]Option{WithOutput(&buf)}, opts...)...)
	register(h)

	s, err := h.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())

	rep, err := tap.Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	return s, rep, buf.String()
}

func TestRunWithGolden_Nested(t *testing.T) {
	RunWithGolden(t, "nested", func(h *Harness) {
		h.Test("A", func(t *T) {
			t.Equal(1, 1)
			t.Test("A.1", func(t *T) {
				t.Ok(true)
				t.End()
			})
			t.End()
		})
		h.Test("B", func(t *T) {
			t.Plan(1)
			t.Equal("1", 1)
		})
		h.Skip("C", func(t *T) {
			t.Fail("never runs")
		})
		h.Test("D", func(t *T) {
			t.Comment("a note")
			panic("boom")
		})
		h.Test("E", func(t *T) {
			t.Fail("wip")
			t.End()
		}, Todo())
	})
}

func TestRunWithGolden_ProtocolViolations(t *testing.T) {
	RunWithGolden(t, "protocol_violations", func(h *Harness) {
		h.Test("planned", func(t *T) {
			t.Plan(2)
			t.Ok(true, "first")
			t.Ok(true, "second")
			t.Ok(true, "third")
		})
		h.Test("ended twice", func(t *T) {
			t.Ok(true)
			t.End()
			t.End()
		})
	})
}

func TestPlan_CompletesAtCountAndFailsBeyond(t *testing.T) {
	var unit *T
	s, rep, _ := runHarness(t, func(h *Harness) {
		unit = h.Test("planned", func(t *T) {
			t.Plan(2)
			t.Ok(true)
			t.Ok(true)
			t.Ok(false)
		})
	})

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Pass)
	assert.Equal(t, 1, s.Fail)
	assert.Equal(t, TriggerPlan, unit.Trigger())
	assert.Equal(t, StateDone, unit.State())
	assert.Equal(t, 3, unit.Count())

	require.Len(t, rep.Records, 3)
	require.NotNil(t, rep.Records[2].Diagnostic)
	assert.Contains(t, rep.Records[2].Diagnostic.Error, "plan exceeded")
}

func TestPlan_Zero(t *testing.T) {
	var unit *T
	s, _, _ := runHarness(t, func(h *Harness) {
		unit = h.Test("empty", func(t *T) {
			t.Plan(0)
		})
	})
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, TriggerPlan, unit.Trigger())
}

func TestPlan_Violations(t *testing.T) {
	tests := []struct {
		name string
		body func(*T)
		want string
	}{
		{
			name: "twice",
			body: func(t *T) { t.Plan(1); t.Plan(1); t.Ok(true) },
			want: "plan(1) called twice",
		},
		{
			name: "after assertions",
			body: func(t *T) { t.Ok(true); t.Plan(2); t.End() },
			want: "plan(2) called after 1 assertions",
		},
		{
			name: "negative",
			body: func(t *T) { t.Plan(-1); t.End() },
			want: "plan(-1) is negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rep, _ := runHarness(t, func(h *Harness) {
				h.Test(tt.name, tt.body)
			})
			assert.Equal(t, 1, s.Fail)

			var descs []string
			for _, r := range rep.Records {
				descs = append(descs, r.Description)
			}
			assert.Contains(t, descs, tt.want)
		})
	}
}

func TestEnd_TwiceRecordsOneFailure(t *testing.T) {
	var unit *T
	s, rep, _ := runHarness(t, func(h *Harness) {
		unit = h.Test("twice", func(t *T) {
			t.Ok(true)
			t.End()
			t.End()
		})
	})

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Pass)
	assert.Equal(t, 1, s.Fail)
	assert.Equal(t, TriggerEnd, unit.Trigger())
	assert.Equal(t, ".end() already called", rep.Records[1].Description)
}

func TestEnd_AfterPlanCompleted(t *testing.T) {
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("planned", func(t *T) {
			t.Plan(1)
			t.Ok(true)
			t.End()
		})
	})
	assert.Equal(t, 1, s.Fail)
	require.Len(t, rep.Records, 2)
	assert.Contains(t, rep.Records[1].Description, "already ended")
}

func TestEnd_WithError(t *testing.T) {
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("errored", func(t *T) {
			t.End(errors.New("connection refused"))
		})
	})
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Fail)
	assert.Equal(t, "connection refused", rep.Records[0].Description)
	assert.Equal(t, "error", rep.Records[0].Diagnostic.Operator)
}

func TestEnd_UnmetPlan(t *testing.T) {
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("short", func(t *T) {
			t.Plan(3)
			t.Ok(true)
			t.End()
		})
	})
	assert.Equal(t, 1, s.Fail)
	require.Len(t, rep.Records, 2)
	assert.Equal(t, "plan != count", rep.Records[1].Description)
	assert.Equal(t, "plan", rep.Records[1].Diagnostic.Operator)
}

func TestAssertAfterEnd(t *testing.T) {
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("late", func(t *T) {
			t.End()
			t.Ok(true, "too late")
		})
	})
	assert.Equal(t, 1, s.Fail)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "too late", rep.Records[0].Description)
	assert.Contains(t, rep.Records[0].Diagnostic.Error, "assertion after end")
}

func TestTimeoutAfter_ForcesCompletion(t *testing.T) {
	var unit *T
	start := time.Now()
	s, rep, _ := runHarness(t, func(h *Harness) {
		unit = h.Test("hangs", func(t *T) {
			t.TimeoutAfter(50 * time.Millisecond)
		})
		h.Test("next", func(t *T) {
			t.Ok(true)
			t.End()
		})
	})

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, TriggerTimeout, unit.Trigger())
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Fail)
	require.Len(t, rep.Records, 2)
	assert.Equal(t, "test timed out after 50ms", rep.Records[0].Description)
	assert.Equal(t, "next", rep.Records[1].Test)
}

func TestTimeout_ReleasesBlockedBody(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	s, _, _ := runHarness(t, func(h *Harness) {
		h.Test("blocked", func(t *T) {
			<-block
		}, Timeout(20*time.Millisecond))
		h.Test("next", func(t *T) {
			t.Pass()
			t.End()
		})
	})
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Pass)
}

func TestEnd_BlockedBodyHoldsQueueUntilTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	var unit *T
	s, rep, _ := runHarness(t, func(h *Harness) {
		unit = h.Test("ends then blocks", func(t *T) {
			t.Pass("before end")
			t.End()
			t.Ok(true, "after end")
			<-block
		}, Timeout(30*time.Millisecond))
		h.Test("next", func(t *T) {
			t.Pass("next")
			t.End()
		})
	})

	assert.Equal(t, TriggerEnd, unit.Trigger())
	var descs []string
	for _, r := range rep.Records {
		descs = append(descs, r.Description)
	}
	assert.Equal(t, []string{"before end", "after end", "test timed out after 30ms", "next"}, descs)
	assert.Equal(t, 2, s.Fail)
	assert.Contains(t, rep.Records[1].Diagnostic.Error, "assertion after end")
}

func TestAssert_AfterRunFinished(t *testing.T) {
	release := make(chan struct{})
	landed := make(chan bool)

	var buf bytes.Buffer
	var finished tap.Summary
	h := New(WithOutput(&buf))
	h.OnFinish(func(s tap.Summary) { finished = s })
	h.Test("slow", func(t *T) {
		go func() {
			<-release
			t.Comment("still here")
			landed <- t.Ok(true, "too late")
		}()
	}, Timeout(20*time.Millisecond))

	s, err := h.Run(context.Background())
	require.NoError(t, err)
	close(release)
	assert.False(t, <-landed)

	assert.Equal(t, tap.Summary{Total: 1, Fail: 1}, s)
	assert.Equal(t, s, finished)
	assert.Equal(t, s, h.Summary())
	assert.NotContains(t, buf.String(), "too late")
	assert.NotContains(t, buf.String(), "still here")
	assert.True(t, strings.HasSuffix(buf.String(), "# not ok\n"))

	rep, err := tap.Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Empty(t, rep.Problems())

	err = h.Close()
	require.ErrorIs(t, err, ErrLate)
	assert.False(t, IsPending(err))
	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, []string{"slow"}, herr.Tests)
}

func TestTimeout_AbortsDescendants(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	var parent, child, never *T
	s, rep, _ := runHarness(t, func(h *Harness) {
		parent = h.Test("parent", func(t *T) {
			child = t.Test("child", func(t *T) {
				<-block
			})
			never = t.Test("queued", func(t *T) {
				t.Fail("should not run")
			})
		}, Timeout(30*time.Millisecond))
	})

	assert.Equal(t, TriggerTimeout, parent.Trigger())
	assert.Equal(t, TriggerAbort, child.Trigger())
	assert.Equal(t, TriggerAbort, never.Trigger())
	assert.Equal(t, 3, s.Fail)

	require.Len(t, rep.Records, 3)
	assert.Equal(t, "test timed out after 30ms", rep.Records[0].Description)
	assert.Contains(t, rep.Records[1].Description, "aborted")
	assert.Contains(t, rep.Records[1].Description, `"parent" timed out`)
	assert.Contains(t, rep.Records[2].Description, "aborted")
}

func TestWithDefaultTimeout(t *testing.T) {
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("forgot end", func(t *T) {
			t.Ok(true)
		})
	}, WithDefaultTimeout(20*time.Millisecond))
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, "test timed out after 20ms", rep.Records[1].Description)
}

func TestOnly_ExcludesOthersSilently(t *testing.T) {
	var normal *T
	s, rep, out := runHarness(t, func(h *Harness) {
		normal = h.Test("normal", func(t *T) {
			t.Fail("should not run")
		})
		h.Only("exclusive", func(t *T) {
			t.Ok(true)
			t.End()
		})
	})

	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Pass)
	assert.Contains(t, out, "# exclusive")
	assert.NotContains(t, out, "normal")
	assert.Equal(t, "exclusive", rep.Records[0].Test)
	assert.Equal(t, StateDone, normal.State())
	assert.Equal(t, TriggerSkip, normal.Trigger())
}

func TestSkip_SynthesizesSkippedRecord(t *testing.T) {
	called := false
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Skip("later", func(t *T) {
			called = true
		})
	})
	assert.False(t, called)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Skip)
	assert.Equal(t, 0, s.Pass)
	assert.Equal(t, tap.DirectiveSkip, rep.Records[0].Directive)
}

func TestOrdering_AsyncSubtestDoesNotInterleave(t *testing.T) {
	_, rep, out := runHarness(t, func(h *Harness) {
		h.Test("A", func(t *T) {
			t.Ok(true, "a")
			t.Test("A.1", func(t *T) {
				go func() {
					time.Sleep(20 * time.Millisecond)
					t.Ok(true, "a.1")
					t.End()
				}()
			})
			t.End()
		})
		h.Test("B", func(t *T) {
			t.Ok(true, "b")
			t.End()
		})
	})

	a := strings.Index(out, "# A\n")
	a1 := strings.Index(out, "#   A.1\n")
	a1rec := strings.Index(out, "ok 2 a.1")
	b := strings.Index(out, "# B\n")
	require.True(t, a >= 0 && a1 >= 0 && a1rec >= 0 && b >= 0, out)
	assert.Less(t, a, a1)
	assert.Less(t, a1, a1rec)
	assert.Less(t, a1rec, b)

	var descs []string
	for _, r := range rep.Records {
		descs = append(descs, r.Description)
	}
	assert.Equal(t, []string{"a", "a.1", "b"}, descs)
	assert.Empty(t, rep.Problems())
}

func TestSubtests_GateParentCompletion(t *testing.T) {
	var (
		parent       *T
		seenByFirst  State
		seenBySecond State
	)
	runHarness(t, func(h *Harness) {
		parent = h.Test("parent", func(t *T) {
			t.Test("first", func(c *T) {
				seenByFirst = c.Parent().State()
				c.Pass()
				c.End()
			})
			t.Test("second", func(c *T) {
				seenBySecond = c.Parent().State()
				c.Pass()
				c.End()
			})
			t.End()
		})
	})

	assert.Equal(t, StateCompleting, seenByFirst)
	assert.Equal(t, StateCompleting, seenBySecond)
	assert.Equal(t, StateDone, parent.State())
	for _, c := range parent.Children() {
		assert.Equal(t, StateDone, c.State())
	}

	select {
	case <-parent.Done():
	default:
		t.Fatal("parent not done after run")
	}
}

func TestSubtests_RunInSpawnOrderAtDepth(t *testing.T) {
	depth := -1
	_, rep, out := runHarness(t, func(h *Harness) {
		h.Test("root", func(t *T) {
			t.Test("one", func(t *T) {
				t.Test("deep", func(t *T) {
					depth = t.Depth()
					t.Pass("deep")
					t.End()
				})
				t.Pass("one")
				t.End()
			})
			t.Test("two", func(t *T) {
				t.Pass("two")
				t.End()
			})
			t.Pass("root")
			t.End()
		})
	})

	assert.Equal(t, 2, depth)
	assert.Contains(t, out, "#     deep\n")
	var descs []string
	for _, r := range rep.Records {
		descs = append(descs, r.Description)
	}
	assert.Equal(t, []string{"root", "one", "deep", "two"}, descs)
}

func TestSubtest_SpawnedAfterEnd(t *testing.T) {
	var late *T
	s, rep, out := runHarness(t, func(h *Harness) {
		h.Test("parent", func(t *T) {
			t.End()
			late = t.Test("late", func(t *T) {
				t.Fail("should not run")
			})
		})
	})
	assert.Equal(t, 1, s.Fail)
	assert.Contains(t, rep.Records[0].Description, `subtest "late" spawned after the test ended`)
	assert.NotContains(t, out, "#   late")
	assert.Equal(t, StateDone, late.State())
}

func TestPanic_CompletesUnitButRunsChildren(t *testing.T) {
	var unit *T
	s, rep, _ := runHarness(t, func(h *Harness) {
		unit = h.Test("panics", func(t *T) {
			t.Test("child", func(t *T) {
				t.Pass("child ran")
				t.End()
			})
			panic(errors.New("kaboom"))
		})
		h.Test("next", func(t *T) {
			t.Pass("next ran")
			t.End()
		})
	})

	assert.Equal(t, TriggerPanic, unit.Trigger())
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Fail)
	assert.Equal(t, "kaboom", rep.Records[0].Description)
	assert.Equal(t, "panic", rep.Records[0].Diagnostic.Operator)
	assert.Equal(t, "child ran", rep.Records[1].Description)
	assert.Equal(t, "next ran", rep.Records[2].Description)
}

func TestTodo_FailuresNotCounted(t *testing.T) {
	s, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("wip", func(t *T) {
			t.Equal(1, 2)
			t.End()
		}, Todo())
	})
	assert.True(t, s.OK())
	assert.Equal(t, 1, s.Todo)
	assert.Equal(t, tap.DirectiveTodo, rep.Records[0].Directive)
}

func TestNumbering_GaplessAcrossNesting(t *testing.T) {
	_, rep, _ := runHarness(t, func(h *Harness) {
		for i := 0; i < 3; i++ {
			h.Test("top", func(t *T) {
				t.Pass()
				t.Test("sub", func(t *T) {
					t.Pass()
					t.SkipAssert()
					t.Fail()
					t.End()
				})
				t.End()
			})
		}
	})
	require.Len(t, rep.Records, 12)
	for i, r := range rep.Records {
		assert.Equal(t, i+1, r.Seq)
	}
	assert.Empty(t, rep.Problems())
}

func TestCreateHarness_IndependentCounters(t *testing.T) {
	register := func(h *Harness) {
		h.Test("one", func(t *T) {
			t.Pass()
			t.Pass()
			t.End()
		})
	}
	_, first, _ := runHarness(t, register)
	_, second, _ := runHarness(t, register)
	assert.Equal(t, 1, first.Records[0].Seq)
	assert.Equal(t, 1, second.Records[0].Seq)
}

func TestCreateStream(t *testing.T) {
	h := New()
	r := h.CreateStream()

	var (
		data []byte
		err  error
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		data, err = io.ReadAll(r)
	}()

	h.Test("streamed", func(t *T) {
		t.Ok(true)
		t.End()
	})
	s, runErr := h.Run(context.Background())
	require.NoError(t, runErr)
	wg.Wait()
	require.NoError(t, err)

	rep, perr := tap.Parse(bytes.NewReader(data))
	require.NoError(t, perr)
	assert.True(t, rep.OK())
	assert.Equal(t, s, rep.Summary())
}

func TestOnFinish_OrderAndLateRegistration(t *testing.T) {
	var calls []string
	var buf bytes.Buffer
	h := New(WithOutput(&buf))
	h.OnFinish(func(s tap.Summary) { calls = append(calls, "first") })
	h.OnFinish(func(s tap.Summary) {
		calls = append(calls, "second")
		assert.Equal(t, 1, s.Total)
	})
	h.Test("one", func(t *T) {
		t.Pass()
		t.End()
	})

	_, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Contains(t, buf.String(), "# ok\n")

	h.OnFinish(func(tap.Summary) { calls = append(calls, "late") })
	assert.Equal(t, []string{"first", "second", "late"}, calls)
}

func TestRun_Twice(t *testing.T) {
	h := New(WithOutput(io.Discard))
	_, err := h.Run(context.Background())
	require.NoError(t, err)

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestClose_PendingUnits(t *testing.T) {
	h := New(WithOutput(io.Discard))
	h.Test("never drained", func(t *T) {})

	err := h.Close()
	require.Error(t, err)
	assert.True(t, IsPending(err))
	assert.Contains(t, err.Error(), "never drained")
}

func TestClose_RegisteredAfterRun(t *testing.T) {
	h := New(WithOutput(io.Discard))
	_, err := h.Run(context.Background())
	require.NoError(t, err)

	h.Test("too late", func(t *T) {})
	err = h.Close()
	assert.True(t, IsPending(err))

	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, []string{"too late"}, herr.Tests)
}

func TestRun_Cancelled(t *testing.T) {
	var buf bytes.Buffer
	h := New(WithOutput(&buf))
	h.Test("first", func(t *T) { t.Pass(); t.End() })
	h.Test("second", func(t *T) { t.Pass(); t.End() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, buf.String(), "Bail out! run cancelled")

	assert.True(t, IsPending(h.Close()))
}

func TestRun_CancelledWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	h := New(WithOutput(&buf))
	running := h.Test("running", func(t *T) {
		cancel()
		<-t.Context().Done()
	})
	h.Test("queued", func(t *T) { t.Pass(); t.End() })

	_, err := h.Run(ctx)
	assert.True(t, IsIncomplete(err))
	assert.Equal(t, TriggerAbort, running.Trigger())

	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, []string{"queued"}, herr.Tests)
}

func TestLocations(t *testing.T) {
	_, rep, _ := runHarness(t, func(h *Harness) {
		h.Test("located", func(t *T) {
			t.Equal(1, 2)
			t.End()
		})
	})
	require.NotNil(t, rep.Records[0].Diagnostic)
	assert.Regexp(t, `^harness_test\.go:\d+$`, rep.Records[0].Diagnostic.At)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) RunStarted(runID string) {
	o.events = append(o.events, "start "+runID)
}

func (o *recordingObserver) TestStarted(runID, name string, depth int) {
	o.events = append(o.events, "test "+name)
}

func (o *recordingObserver) Recorded(runID string, r tap.Record) {
	o.events = append(o.events, "record "+r.Description)
}

func (o *recordingObserver) RunFinished(runID string, s tap.Summary) {
	o.events = append(o.events, "finish")
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	runHarness(t, func(h *Harness) {
		h.Test("observed", func(t *T) {
			t.Pass("seen")
			t.End()
		})
	}, WithObserver(obs), WithRunID("run-1"))

	assert.Equal(t, []string{"start run-1", "test observed", "record seen", "finish"}, obs.events)
}

type bailObserver struct {
	recordingObserver
	reason string
}

func (o *bailObserver) RunBailed(runID, reason string, s tap.Summary) {
	o.events = append(o.events, "bail")
	o.reason = reason
}

func TestObserver_Bailed(t *testing.T) {
	obs := &bailObserver{}
	h := New(WithOutput(io.Discard), WithObserver(obs), WithRunID("run-2"))
	h.Test("never", func(t *T) { t.End() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Run(ctx)
	require.Error(t, err)

	assert.Equal(t, []string{"start run-2", "bail"}, obs.events)
	assert.Equal(t, "run cancelled: context canceled", obs.reason)
}
