package ensemble

// Metrics are binary classification metrics on the positive class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluate scores m on a held-out set, thresholding the probability at 0.5.
func Evaluate(m *Model, X [][]float64, y []bool) (Metrics, error) {
	var tp, fp, tn, fn int
	for i := range X {
		score, _, err := m.Predict(X[i])
		if err != nil {
			return Metrics{}, err
		}
		switch pred := score >= 0.5; {
		case pred && y[i]:
			tp++
		case pred && !y[i]:
			fp++
		case !pred && y[i]:
			fn++
		default:
			tn++
		}
	}
	return Score(tp, fp, tn, fn), nil
}

// Score derives metrics from a confusion matrix. Undefined ratios are 0.
func Score(tp, fp, tn, fn int) Metrics {
	mt := Metrics{Support: tp + fp + tn + fn}
	if mt.Support > 0 {
		mt.Accuracy = float64(tp+tn) / float64(mt.Support)
	}
	if tp+fp > 0 {
		mt.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		mt.Recall = float64(tp) / float64(tp+fn)
	}
	if mt.Precision+mt.Recall > 0 {
		mt.F1 = 2 * mt.Precision * mt.Recall / (mt.Precision + mt.Recall)
	}
	return mt
}
