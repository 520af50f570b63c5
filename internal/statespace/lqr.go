package statespace

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var ErrNoConvergence = errors.New("statespace: Riccati iteration did not converge")

const (
	riccatiMaxIter = 1000
	riccatiTol     = 1e-12
)

// LQR returns the infinite-horizon state-feedback gain k for the discrete
// model under the cost sum x'Qx + r*u^2, so that u = -k.x stabilizes the
// plant. The Riccati difference equation is iterated to its fixed point;
// P is re-symmetrized every sweep because the antisymmetric roundoff
// component otherwise grows like Ad' dP Ad when Ad is unstable.
func (d *Discrete) LQR(q *mat.SymDense, r float64) (*mat.VecDense, error) {
	n, _ := d.Ad.Dims()
	p := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p.Set(i, j, q.At(i, j))
		}
	}
	adT := d.Ad.T()
	pb := mat.NewVecDense(n, nil)
	atpb := mat.NewVecDense(n, nil)
	tmp := mat.NewDense(n, n, nil)
	atpa := mat.NewDense(n, n, nil)
	pn := mat.NewDense(n, n, nil)

	for it := 0; it < riccatiMaxIter; it++ {
		pb.MulVec(p, d.Bd)
		s := r + mat.Dot(d.Bd, pb)
		atpb.MulVec(adT, pb)
		tmp.Mul(p, d.Ad)
		atpa.Mul(adT, tmp)

		diff := 0.0
		nrm := 0.0
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := atpa.At(i, j) - atpb.AtVec(i)*atpb.AtVec(j)/s + q.At(i, j)
				pn.Set(i, j, v)
			}
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := 0.5 * (pn.At(i, j) + pn.At(j, i))
				dv := v - p.At(i, j)
				if dv < 0 {
					dv = -dv
				}
				if dv > diff {
					diff = dv
				}
				av := v
				if av < 0 {
					av = -av
				}
				if av > nrm {
					nrm = av
				}
				p.Set(i, j, v)
			}
		}
		if nrm < 1 {
			nrm = 1
		}
		if diff < riccatiTol*nrm {
			pb.MulVec(p, d.Bd)
			s = r + mat.Dot(d.Bd, pb)
			k := mat.NewVecDense(n, nil)
			k.MulVec(adT, pb)
			k.ScaleVec(1/s, k)
			return k, nil
		}
	}
	return nil, ErrNoConvergence
}
