package experiment_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dipmpc/internal/config"
	"dipmpc/internal/experiment"
	"dipmpc/internal/metrics"
	"dipmpc/internal/mpc"
	"dipmpc/internal/qp"
	"dipmpc/internal/sim"
)

func runPreset(name string) (*sim.Trajectory, error) {
	cfg := config.GetPreset(name)
	Expect(cfg).NotTo(BeNil(), "preset %s", name)
	exp, err := experiment.New(cfg)
	Expect(err).NotTo(HaveOccurred())
	return exp.Run(context.Background())
}

var _ = Describe("Upright stabilization", func() {
	Context("from the default tilt", func() {
		var (
			traj *sim.Trajectory
			sum  metrics.Summary
		)

		BeforeEach(func() {
			var err error
			traj, err = runPreset("default")
			Expect(err).NotTo(HaveOccurred())
			sum = metrics.Summarize(traj)
		})

		It("completes every tick optimally", func() {
			Expect(traj.Reason).To(Equal(sim.StopCompleted))
			Expect(sum.Ticks).To(Equal(400))
			Expect(sum.AllOptimal()).To(BeTrue())
			Expect(sum.FallbackTicks).To(BeZero())
		})

		It("settles upright well before the run ends", func() {
			Expect(sum.SettleTick).To(BeNumerically(">=", 0))
			Expect(sum.SettleTick).To(BeNumerically("<=", 40))

			final := traj.Final()
			Expect(math.Abs(final[1])).To(BeNumerically("<", 0.01))
			Expect(math.Abs(final[2])).To(BeNumerically("<", 0.01))
			Expect(math.Abs(final[4])).To(BeNumerically("<", 0.05))
			Expect(math.Abs(final[5])).To(BeNumerically("<", 0.05))
		})

		It("saturates but never exceeds the force budget", func() {
			Expect(traj.Controls[0]).To(BeNumerically("~", 50.0, 0.01))
			Expect(sum.PeakForce).To(BeNumerically("<=", 50.0+1e-6))
		})

		It("respects the state box once past the transient", func() {
			for i, lim := range config.GetPreset("default").Bounds.XMax {
				Expect(sum.MaxAbsState[i]).To(BeNumerically("<=", lim+0.25),
					"component %d", i)
			}
		})
	})

	Context("from the gentle tilt", func() {
		It("stabilizes without touching the force bound", func() {
			traj, err := runPreset("gentle")
			Expect(err).NotTo(HaveOccurred())
			Expect(traj.Reason).To(Equal(sim.StopCompleted))

			sum := metrics.Summarize(traj)
			Expect(sum.AllOptimal()).To(BeTrue())
			Expect(sum.SettleTick).To(BeNumerically("<=", 20))
			Expect(sum.PeakForce).To(BeNumerically("<", 45))
			Expect(sum.PeakForce).To(BeNumerically(">", 30))
		})
	})

	Context("from the overtilt start", func() {
		It("reports honest infeasibility and stops on the failure budget", func() {
			traj, err := runPreset("overtilt")
			Expect(err).To(MatchError(mpc.ErrControlFailed))
			Expect(traj.Reason).To(Equal(sim.StopControlFailure))

			// Budget of 10 consecutive failures plus the tick that overflows it.
			Expect(traj.Steps).To(HaveLen(11))
			for _, info := range traj.Steps {
				Expect(info.Status).To(Equal(qp.StatusPrimalInfeasible))
			}
			for _, u := range traj.Controls {
				Expect(u).To(BeZero())
			}

			// The plant is falling but still inside the safety envelope.
			env := sim.Envelope(config.GetPreset("overtilt").Envelope)
			Expect(env.Contains(traj.Final())).To(BeTrue())
		})
	})

	Context("with a weak actuator", func() {
		It("fails the same way from the recoverable tilt", func() {
			traj, err := runPreset("weak-actuator")
			Expect(err).To(MatchError(mpc.ErrControlFailed))
			Expect(traj.Reason).To(Equal(sim.StopControlFailure))
			Expect(traj.Steps).To(HaveLen(11))

			sum := metrics.Summarize(traj)
			Expect(sum.StatusCounts["primal-infeasible"]).To(Equal(11))
			Expect(sum.FallbackTicks).To(Equal(10))
		})
	})

	Context("warm starting", func() {
		It("cuts solver iterations without changing the trajectory", func() {
			warmTraj, err := runPreset("default")
			Expect(err).NotTo(HaveOccurred())

			coldCfg := config.GetPreset("default")
			coldCfg.Controller.WarmStart = false
			coldExp, err := experiment.New(coldCfg)
			Expect(err).NotTo(HaveOccurred())
			coldTraj, err := coldExp.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			warm := metrics.Summarize(warmTraj)
			cold := metrics.Summarize(coldTraj)
			Expect(warm.AllOptimal()).To(BeTrue())
			Expect(cold.AllOptimal()).To(BeTrue())
			Expect(warm.Iterations.Total).To(BeNumerically("<", cold.Iterations.Total))

			for i := range warmTraj.Final() {
				Expect(warmTraj.Final()[i]).To(BeNumerically("~", coldTraj.Final()[i], 0.01))
			}
		})
	})
})
