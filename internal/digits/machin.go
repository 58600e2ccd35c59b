package digits

import "math/big"

// #region machin
// MachinPi computes the first n fractional digits of pi with Machin's formula
// pi = 16·atan(1/5) − 4·atan(1/239) in fixed-point integer arithmetic. It
// exists to audit the embedded asset, not for the hot path.
func MachinPi(n int) string {
	if n <= 0 {
		return ""
	}
	const guard = 20
	unity := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n+guard)), nil)

	pi := new(big.Int).Mul(arctanInv(5, unity), big.NewInt(16))
	pi.Sub(pi, new(big.Int).Mul(arctanInv(239, unity), big.NewInt(4)))

	s := pi.String()
	// s is "3" followed by n+guard digits.
	return s[1 : n+1]
}

// arctanInv returns atan(1/x) scaled by unity.
func arctanInv(x int64, unity *big.Int) *big.Int {
	bx := big.NewInt(x)
	x2 := big.NewInt(x * x)
	term := new(big.Int).Quo(unity, bx)
	total := new(big.Int).Set(term)
	q := new(big.Int)
	for k := int64(1); term.Sign() != 0; k++ {
		term.Quo(term, x2)
		q.Quo(term, big.NewInt(2*k+1))
		if k%2 == 1 {
			total.Sub(total, q)
		} else {
			total.Add(total, q)
		}
	}
	return total
}

// #endregion machin
