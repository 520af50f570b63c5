// Package qp solves convex quadratic programs of the form
//
//	minimize    1/2 z'Pz + q'z
//	subject to  lo <= Az <= up
//
// using an operator-splitting (ADMM) iteration in the style of OSQP:
// the KKT system is factorized once per constraint pattern, each iteration
// costs two matrix-vector products and a triangular solve, and warm starting
// makes sequences of related problems cheap. Equality constraints are
// expressed as rows with lo == up. Infeasible and unbounded problems are
// detected through the standard certificate conditions on the iterate
// differences.
package qp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Status classifies the outcome of a solve. Statuses are data, not errors:
// an infeasible problem is a well-formed answer.
type Status int

const (
	StatusOptimal Status = iota
	StatusPrimalInfeasible
	StatusDualInfeasible
	StatusIterationLimit
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusPrimalInfeasible:
		return "primal-infeasible"
	case StatusDualInfeasible:
		return "dual-infeasible"
	case StatusIterationLimit:
		return "iteration-limit"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Settings tunes the ADMM iteration. Zero fields are replaced by defaults.
type Settings struct {
	Rho          float64 // step penalty, equality rows use 1e3*Rho
	Sigma        float64 // primal regularization
	Alpha        float64 // over-relaxation in (0, 2)
	MaxIter      int
	EpsAbs       float64
	EpsRel       float64
	EpsInfeas    float64 // certificate tolerance
	CheckEvery   int     // residual check interval
	ScalingIters int     // Ruiz equilibration sweeps
}

// DefaultSettings returns the tuning used by the controller.
func DefaultSettings() Settings {
	return Settings{
		Rho:          0.1,
		Sigma:        1e-6,
		Alpha:        1.6,
		MaxIter:      4000,
		EpsAbs:       1e-4,
		EpsRel:       1e-4,
		EpsInfeas:    1e-5,
		CheckEvery:   25,
		ScalingIters: 10,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Rho <= 0 {
		s.Rho = d.Rho
	}
	if s.Sigma <= 0 {
		s.Sigma = d.Sigma
	}
	if s.Alpha <= 0 || s.Alpha >= 2 {
		s.Alpha = d.Alpha
	}
	if s.MaxIter <= 0 {
		s.MaxIter = d.MaxIter
	}
	if s.EpsAbs <= 0 {
		s.EpsAbs = d.EpsAbs
	}
	if s.EpsRel < 0 {
		s.EpsRel = d.EpsRel
	}
	if s.EpsInfeas <= 0 {
		s.EpsInfeas = d.EpsInfeas
	}
	if s.CheckEvery <= 0 {
		s.CheckEvery = d.CheckEvery
	}
	if s.ScalingIters < 0 {
		s.ScalingIters = d.ScalingIters
	}
	return s
}

// WarmStart seeds the iteration with a primal/dual guess, typically the
// shifted solution of the previous problem in a receding-horizon sequence.
type WarmStart struct {
	Z []float64
	Y []float64
}

// Result is the outcome of one solve.
type Result struct {
	Z          []float64
	Y          []float64
	Status     Status
	Iterations int
	Objective  float64
	PrimalRes  float64
	DualRes    float64
	Runtime    time.Duration
}

var (
	ErrDimension     = errors.New("qp: dimension mismatch")
	ErrBadBounds     = errors.New("qp: lower bound exceeds upper bound")
	ErrInvalidValue  = errors.New("qp: NaN in problem data")
	ErrFactorization = errors.New("qp: KKT factorization failed (P not positive semidefinite?)")
)

// Solver holds the cost matrix, the constraint matrix, their equilibrated
// copies and the KKT factorization. One Solver serves a sequence of problems
// that share P and A while q, lo and up vary. Not safe for concurrent use.
type Solver struct {
	set  Settings
	n, m int

	p  *mat.SymDense
	a  *mat.Dense
	at *mat.Dense

	d, e    []float64 // Ruiz column / row scalings
	pb      *mat.SymDense
	ab, abt *mat.Dense

	rho    []float64
	eqPrev []bool
	chol   mat.Cholesky
	haveF  bool

	// iterates (scaled space) and scratch
	x, z, y, dx, dy  []float64
	xt, zt, w, rhs   []float64
	xu, zu, yu       []float64
	ax, px, aty, tmp []float64
}

// NewSolver equilibrates the problem matrices and prepares the workspace.
func NewSolver(p *mat.SymDense, a *mat.Dense, set Settings) (*Solver, error) {
	n := p.SymmetricDim()
	m, an := a.Dims()
	if an != n {
		return nil, fmt.Errorf("%w: P is %dx%d, A has %d columns", ErrDimension, n, n, an)
	}
	s := &Solver{
		set: set.withDefaults(),
		n:   n,
		m:   m,
		p:   mat.NewSymDense(n, nil),
		a:   mat.NewDense(m, n, nil),
		at:  mat.NewDense(n, m, nil),
	}
	s.p.CopySym(p)
	s.a.Copy(a)
	s.at.Copy(a.T())
	s.equilibrate()

	s.rho = make([]float64, m)
	s.eqPrev = make([]bool, m)
	s.x = make([]float64, n)
	s.z = make([]float64, m)
	s.y = make([]float64, m)
	s.dx = make([]float64, n)
	s.dy = make([]float64, m)
	s.xt = make([]float64, n)
	s.zt = make([]float64, m)
	s.w = make([]float64, m)
	s.rhs = make([]float64, n)
	s.xu = make([]float64, n)
	s.zu = make([]float64, m)
	s.yu = make([]float64, m)
	s.ax = make([]float64, m)
	s.px = make([]float64, n)
	s.aty = make([]float64, n)
	s.tmp = make([]float64, n)
	return s, nil
}

// equilibrate runs modified Ruiz scaling on [[P, A'], [A, 0]] so that rows
// and columns of the scaled KKT matrix approach unit infinity norm.
func (s *Solver) equilibrate() {
	n, m := s.n, s.m
	s.d = make([]float64, n)
	s.e = make([]float64, m)
	for j := range s.d {
		s.d[j] = 1
	}
	for k := range s.e {
		s.e[k] = 1
	}
	s.pb = mat.NewSymDense(n, nil)
	s.pb.CopySym(s.p)
	s.ab = mat.NewDense(m, n, nil)
	s.ab.Copy(s.a)

	dx := make([]float64, n)
	de := make([]float64, m)
	for it := 0; it < s.set.ScalingIters; it++ {
		for j := 0; j < n; j++ {
			c := 0.0
			for i := 0; i < n; i++ {
				c = math.Max(c, math.Abs(s.pb.At(i, j)))
			}
			for k := 0; k < m; k++ {
				c = math.Max(c, math.Abs(s.ab.At(k, j)))
			}
			if c > 0 {
				dx[j] = 1 / math.Sqrt(c)
			} else {
				dx[j] = 1
			}
		}
		for k := 0; k < m; k++ {
			c := 0.0
			for j := 0; j < n; j++ {
				c = math.Max(c, math.Abs(s.ab.At(k, j)))
			}
			if c > 0 {
				de[k] = 1 / math.Sqrt(c)
			} else {
				de[k] = 1
			}
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				s.pb.SetSym(i, j, s.pb.At(i, j)*dx[i]*dx[j])
			}
		}
		for k := 0; k < m; k++ {
			for j := 0; j < n; j++ {
				s.ab.Set(k, j, s.ab.At(k, j)*de[k]*dx[j])
			}
		}
		for j := 0; j < n; j++ {
			s.d[j] *= dx[j]
		}
		for k := 0; k < m; k++ {
			s.e[k] *= de[k]
		}
	}
	s.abt = mat.NewDense(n, m, nil)
	s.abt.Copy(s.ab.T())
}

func (s *Solver) factorize(eq []bool) error {
	for k := range eq {
		if eq[k] {
			s.rho[k] = s.set.Rho * 1e3
		} else {
			s.rho[k] = s.set.Rho
		}
	}
	n := s.n
	kkt := mat.NewSymDense(n, nil)
	kkt.CopySym(s.pb)
	for i := 0; i < n; i++ {
		kkt.SetSym(i, i, kkt.At(i, i)+s.set.Sigma)
	}
	for k := 0; k < s.m; k++ {
		rk := s.rho[k]
		for i := 0; i < n; i++ {
			aki := s.ab.At(k, i)
			if aki == 0 {
				continue
			}
			for j := i; j < n; j++ {
				kkt.SetSym(i, j, kkt.At(i, j)+rk*aki*s.ab.At(k, j))
			}
		}
	}
	if ok := s.chol.Factorize(kkt); !ok {
		return ErrFactorization
	}
	s.haveF = true
	copy(s.eqPrev, eq)
	return nil
}

// Solve minimizes 1/2 z'Pz + q'z subject to lo <= Az <= up. A nil warm start
// begins from the origin; warm starting never affects which answer is found,
// only how fast.
func (s *Solver) Solve(q, lo, up []float64, warm *WarmStart) (*Result, error) {
	start := time.Now()
	n, m := s.n, s.m
	if len(q) != n || len(lo) != m || len(up) != m {
		return nil, fmt.Errorf("%w: q=%d lo=%d up=%d (want %d, %d, %d)",
			ErrDimension, len(q), len(lo), len(up), n, m, m)
	}
	eq := make([]bool, m)
	refactor := !s.haveF
	for k := 0; k < m; k++ {
		if math.IsNaN(lo[k]) || math.IsNaN(up[k]) {
			return nil, ErrInvalidValue
		}
		if lo[k] > up[k] || math.IsInf(lo[k], 1) || math.IsInf(up[k], -1) {
			return nil, fmt.Errorf("%w: row %d has [%g, %g]", ErrBadBounds, k, lo[k], up[k])
		}
		eq[k] = lo[k] == up[k]
		if eq[k] != s.eqPrev[k] {
			refactor = true
		}
	}
	for j := 0; j < n; j++ {
		if math.IsNaN(q[j]) {
			return nil, ErrInvalidValue
		}
	}
	if refactor {
		if err := s.factorize(eq); err != nil {
			return nil, err
		}
	}

	// scale the varying data
	qb := make([]float64, n)
	lob := make([]float64, m)
	upb := make([]float64, m)
	for j := 0; j < n; j++ {
		qb[j] = q[j] * s.d[j]
	}
	for k := 0; k < m; k++ {
		lob[k] = lo[k] * s.e[k]
		upb[k] = up[k] * s.e[k]
	}

	x, z, y := s.x, s.z, s.y
	if warm != nil {
		if len(warm.Z) != n || len(warm.Y) != m {
			return nil, fmt.Errorf("%w: warm start z=%d y=%d", ErrDimension, len(warm.Z), len(warm.Y))
		}
		for j := 0; j < n; j++ {
			x[j] = warm.Z[j] / s.d[j]
		}
		for k := 0; k < m; k++ {
			y[k] = warm.Y[k] / s.e[k]
		}
		azVec := mat.NewVecDense(m, z)
		azVec.MulVec(s.ab, mat.NewVecDense(n, x))
		for k := 0; k < m; k++ {
			z[k] = clamp(z[k], lob[k], upb[k])
		}
	} else {
		for j := 0; j < n; j++ {
			x[j] = 0
		}
		for k := 0; k < m; k++ {
			z[k] = 0
			y[k] = 0
		}
	}

	alpha := s.set.Alpha
	sigma := s.set.Sigma
	rhsVec := mat.NewVecDense(n, s.rhs)
	wVec := mat.NewVecDense(m, s.w)
	xtVec := mat.NewVecDense(n, s.xt)
	ztVec := mat.NewVecDense(m, s.zt)

	res := &Result{Status: StatusIterationLimit}
	iters := 0
	for it := 1; it <= s.set.MaxIter; it++ {
		iters = it
		for k := 0; k < m; k++ {
			s.w[k] = s.rho[k]*z[k] - y[k]
		}
		rhsVec.MulVec(s.abt, wVec)
		for j := 0; j < n; j++ {
			s.rhs[j] += sigma*x[j] - qb[j]
		}
		if err := s.chol.SolveVecTo(xtVec, rhsVec); err != nil {
			return nil, fmt.Errorf("qp: KKT solve: %w", err)
		}
		ztVec.MulVec(s.ab, xtVec)

		for j := 0; j < n; j++ {
			s.dx[j] = alpha * (s.xt[j] - x[j])
			x[j] += s.dx[j]
		}
		for k := 0; k < m; k++ {
			zrel := alpha*s.zt[k] + (1-alpha)*z[k]
			zk := clamp(zrel+y[k]/s.rho[k], lob[k], upb[k])
			yn := y[k] + s.rho[k]*(zrel-zk)
			s.dy[k] = yn - y[k]
			y[k] = yn
			z[k] = zk
		}

		if it%s.set.CheckEvery == 0 || it == s.set.MaxIter {
			if st, done := s.check(q, lo, up, res); done {
				res.Status = st
				break
			}
		}
	}
	res.Iterations = iters

	// unscale and report
	for j := 0; j < n; j++ {
		s.xu[j] = x[j] * s.d[j]
	}
	for k := 0; k < m; k++ {
		s.yu[k] = y[k] * s.e[k]
	}
	res.Z = append([]float64(nil), s.xu...)
	res.Y = append([]float64(nil), s.yu...)
	xuVec := mat.NewVecDense(n, s.xu)
	tmpVec := mat.NewVecDense(n, s.tmp)
	tmpVec.MulVec(s.p, xuVec)
	res.Objective = 0.5*mat.Dot(xuVec, tmpVec) + dot(q, s.xu)
	res.Runtime = time.Since(start)
	return res, nil
}

// check evaluates termination in unscaled space. It fills the residual
// fields of res and reports the terminal status, if any.
func (s *Solver) check(q, lo, up []float64, res *Result) (Status, bool) {
	n, m := s.n, s.m
	for j := 0; j < n; j++ {
		s.xu[j] = s.x[j] * s.d[j]
	}
	for k := 0; k < m; k++ {
		s.zu[k] = s.z[k] / s.e[k]
		s.yu[k] = s.y[k] * s.e[k]
	}
	xuVec := mat.NewVecDense(n, s.xu)
	axVec := mat.NewVecDense(m, s.ax)
	axVec.MulVec(s.a, xuVec)
	rp := 0.0
	for k := 0; k < m; k++ {
		rp = math.Max(rp, math.Abs(s.ax[k]-s.zu[k]))
	}
	pxVec := mat.NewVecDense(n, s.px)
	pxVec.MulVec(s.p, xuVec)
	atyVec := mat.NewVecDense(n, s.aty)
	atyVec.MulVec(s.at, mat.NewVecDense(m, s.yu))
	rd := 0.0
	for j := 0; j < n; j++ {
		rd = math.Max(rd, math.Abs(s.px[j]+q[j]+s.aty[j]))
	}
	res.PrimalRes, res.DualRes = rp, rd

	epsP := s.set.EpsAbs + s.set.EpsRel*math.Max(infNorm(s.ax), infNorm(s.zu))
	epsD := s.set.EpsAbs + s.set.EpsRel*math.Max(infNorm(s.px),
		math.Max(infNorm(s.aty), infNorm(q)))
	if rp <= epsP && rd <= epsD {
		return StatusOptimal, true
	}

	if st, ok := s.primalInfeasible(lo, up); ok {
		return st, true
	}
	if st, ok := s.dualInfeasible(q, lo, up); ok {
		return st, true
	}
	return 0, false
}

func (s *Solver) primalInfeasible(lo, up []float64) (Status, bool) {
	m := s.m
	for k := 0; k < m; k++ {
		s.zu[k] = s.dy[k] * s.e[k] // reuse zu as unscaled dy
	}
	ndy := infNorm(s.zu)
	if ndy <= 1e-12 {
		return 0, false
	}
	eps := s.set.EpsInfeas * ndy
	atdyVec := mat.NewVecDense(s.n, s.aty)
	atdyVec.MulVec(s.at, mat.NewVecDense(m, s.zu))
	if infNorm(s.aty) > eps {
		return 0, false
	}
	support := 0.0
	for k := 0; k < m; k++ {
		dk := s.zu[k]
		switch {
		case dk > 0:
			if math.IsInf(up[k], 1) {
				if dk > eps {
					return 0, false
				}
			} else {
				support += up[k] * dk
			}
		case dk < 0:
			if math.IsInf(lo[k], -1) {
				if -dk > eps {
					return 0, false
				}
			} else {
				support += lo[k] * dk
			}
		}
	}
	if support <= -eps {
		return StatusPrimalInfeasible, true
	}
	return 0, false
}

func (s *Solver) dualInfeasible(q, lo, up []float64) (Status, bool) {
	n, m := s.n, s.m
	for j := 0; j < n; j++ {
		s.xu[j] = s.dx[j] * s.d[j] // reuse xu as unscaled dx
	}
	ndx := infNorm(s.xu)
	if ndx <= 1e-12 {
		return 0, false
	}
	eps := s.set.EpsInfeas * ndx
	dxVec := mat.NewVecDense(n, s.xu)
	pdxVec := mat.NewVecDense(n, s.px)
	pdxVec.MulVec(s.p, dxVec)
	if infNorm(s.px) > eps || dot(q, s.xu) > -eps {
		return 0, false
	}
	adxVec := mat.NewVecDense(m, s.ax)
	adxVec.MulVec(s.a, dxVec)
	for k := 0; k < m; k++ {
		v := s.ax[k]
		if !math.IsInf(up[k], 1) && v > eps {
			return 0, false
		}
		if !math.IsInf(lo[k], -1) && v < -eps {
			return 0, false
		}
	}
	return StatusDualInfeasible, true
}

func clamp(v, lo, up float64) float64 {
	if v < lo {
		return lo
	}
	if v > up {
		return up
	}
	return v
}

func infNorm(v []float64) float64 {
	nrm := 0.0
	for _, x := range v {
		nrm = math.Max(nrm, math.Abs(x))
	}
	return nrm
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += v * b[i]
	}
	return s
}
