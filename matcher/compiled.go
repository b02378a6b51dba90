package matcher

import (
	"github.com/nihei9/urubu/compressor"
	verr "github.com/nihei9/urubu/error"
	"github.com/nihei9/urubu/fsm"
	"github.com/nihei9/urubu/grammar"
	"github.com/nihei9/urubu/vocab"
)

// position identifies one grammar position a stack top can sit on: an element
// of a sequence expression, with a byte offset when the element is a byte
// string. The rule is irrelevant because token classification runs the
// position in isolation.
type position struct {
	seqID        grammar.ExprID
	elemIdx      int32
	elemInString int32
}

// maskRow is the precomputed token classification for one position. tokens
// holds either the accepted or the rejected token IDs, whichever list is
// smaller. uncertain tokens reach the end of the position's rule partway
// through, so their fate depends on the rest of the stack and they are
// re-checked at mask time.
type maskRow struct {
	storeRejected bool
	tokens        []int32
	uncertain     []int32
}

// CompiledGrammar is a grammar normalized and preprocessed against one
// vocabulary. It is immutable and safe to share between matchers.
type CompiledGrammar struct {
	g        *grammar.Grammar
	vocab    *vocab.Table
	dispatch map[grammar.ExprID]*dispatchInfo
	rowOf    map[position]int32
	rows     []maskRow
	fullMask []uint32
	stopMask []uint32
	words    int

	// lookaheadBlocksStop is set when the root rule carries a lookahead
	// assertion that cannot match empty text. Such a grammar can never
	// terminate cleanly because generation stops at the end of the match.
	lookaheadBlocksStop bool
}

func (c *CompiledGrammar) Grammar() *grammar.Grammar {
	return c.g
}

func (c *CompiledGrammar) Vocab() *vocab.Table {
	return c.vocab
}

// MaskWords returns the number of uint32 words a token bitmask for the given
// vocabulary size occupies.
func MaskWords(vocabSize int) int {
	return (vocabSize + 31) / 32
}

// Compile normalizes g and classifies every vocabulary token against every
// grammar position, producing the row tables FillNextTokenBitmask reads.
func Compile(g *grammar.Grammar, v *vocab.Table) (*CompiledGrammar, error) {
	ng, err := grammar.Normalize(g)
	if err != nil {
		return nil, err
	}
	dispatch, err := buildDispatchInfo(ng)
	if err != nil {
		return nil, err
	}
	if err := checkLeftRecursion(ng, dispatch); err != nil {
		return nil, err
	}
	c := &CompiledGrammar{
		g:        ng,
		vocab:    v,
		dispatch: dispatch,
		rowOf:    map[position]int32{},
		words:    MaskWords(v.Size()),
	}
	c.fullMask = make([]uint32, c.words)
	c.stopMask = make([]uint32, c.words)
	for id := int32(0); id < int32(v.Size()); id++ {
		if v.IsStop(id) {
			setBit(c.stopMask, id)
		} else {
			setBit(c.fullMask, id)
		}
	}
	c.lookaheadBlocksStop = rootLookaheadBlocksStop(ng, dispatch)
	if err := c.classifyPositions(); err != nil {
		return nil, err
	}
	tracer().Infof("compiled grammar: %v rules, %v positions, %v distinct mask rows",
		ng.NumRules(), len(c.rowOf), len(c.rows))
	return c, nil
}

func buildDispatchInfo(g *grammar.Grammar) (map[grammar.ExprID]*dispatchInfo, error) {
	dispatch := map[grammar.ExprID]*dispatchInfo{}
	for i := 0; i < g.NumRules(); i++ {
		r := g.Rule(grammar.RuleID(i))
		body := g.Expr(r.BodyExprID)
		if body.Type != grammar.ExprTypeTagDispatch {
			continue
		}
		n := body.TagDispatchNumPairs()
		triggers := make([]string, n)
		ruleOf := make([]grammar.RuleID, n)
		for j := 0; j < n; j++ {
			tagID, ruleID := body.TagDispatchPair(j)
			tag := g.Expr(tagID)
			if tag.Type != grammar.ExprTypeByteString || tag.Len() == 0 {
				return nil, verr.New(verr.KindValidation, "rule %v: tag dispatch trigger must be a non-empty byte string", r.Name)
			}
			b := make([]byte, tag.Len())
			for k, c := range tag.Data {
				b[k] = byte(c)
			}
			triggers[j] = string(b)
			ruleOf[j] = ruleID
		}
		aut, err := fsm.BuildTagDispatch(triggers)
		if err != nil {
			return nil, verr.New(verr.KindValidation, "rule %v: %v", r.Name, err)
		}
		dispatch[r.BodyExprID] = &dispatchInfo{
			aut:            aut,
			ruleOf:         ruleOf,
			atLeastOne:     body.TagDispatchAtLeastOne(),
			stopAfterFirst: body.TagDispatchStopAfterFirst(),
		}
	}
	return dispatch, nil
}

// ruleNullable reports whether the rule can match empty text. Unlike
// Grammar.IsNullable it also understands tag dispatch bodies, which are
// nullable unless they demand at least one fired tag.
func ruleNullable(g *grammar.Grammar, dispatch map[grammar.ExprID]*dispatchInfo, id grammar.RuleID) bool {
	if di, ok := dispatch[g.Rule(id).BodyExprID]; ok {
		return !di.atLeastOne
	}
	return g.IsNullable(id)
}

// checkLeftRecursion rejects grammars where a rule can re-enter itself
// without consuming input. The stack expansion would not terminate on such
// grammars.
func checkLeftRecursion(g *grammar.Grammar, dispatch map[grammar.ExprID]*dispatchInfo) error {
	numRules := g.NumRules()
	adj := make([][]grammar.RuleID, numRules)
	for i := 0; i < numRules; i++ {
		body := g.Expr(g.Rule(grammar.RuleID(i)).BodyExprID)
		if body.Type == grammar.ExprTypeTagDispatch {
			// Tag group rules start only after a non-empty trigger.
			continue
		}
		for _, alt := range body.Data {
			altExpr := g.Expr(grammar.ExprID(alt))
			if altExpr.Type != grammar.ExprTypeSequence {
				continue
			}
		elems:
			for _, sub := range altExpr.Data {
				elem := g.Expr(grammar.ExprID(sub))
				switch elem.Type {
				case grammar.ExprTypeCharacterClassStar:
					continue
				case grammar.ExprTypeByteString:
					if elem.Len() == 0 {
						continue
					}
					break elems
				case grammar.ExprTypeRuleRef:
					t := grammar.RuleID(elem.Data[0])
					adj[i] = append(adj[i], t)
					if ruleNullable(g, dispatch, t) {
						continue
					}
					break elems
				default:
					break elems
				}
			}
		}
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int8, numRules)
	var visit func(grammar.RuleID) error
	visit = func(id grammar.RuleID) error {
		color[id] = gray
		for _, t := range adj[id] {
			switch color[t] {
			case gray:
				return verr.New(verr.KindValidation, "left recursion detected involving rule %v", g.Rule(t).Name)
			case white:
				if err := visit(t); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for i := 0; i < numRules; i++ {
		if color[i] == white {
			if err := visit(grammar.RuleID(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func rootLookaheadBlocksStop(g *grammar.Grammar, dispatch map[grammar.ExprID]*dispatchInfo) bool {
	la := g.RootRule().LookaheadAssertionID
	if la == grammar.ExprIDNil {
		return false
	}
	seq := g.Expr(la)
	for _, sub := range seq.Data {
		elem := g.Expr(grammar.ExprID(sub))
		switch elem.Type {
		case grammar.ExprTypeCharacterClassStar:
		case grammar.ExprTypeByteString:
			if elem.Len() > 0 {
				return true
			}
		case grammar.ExprTypeRuleRef:
			if !ruleNullable(g, dispatch, grammar.RuleID(elem.Data[0])) {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// classifyPositions runs every non-stop token against every enumerable
// grammar position and stores the outcome as deduplicated mask rows. Tag
// dispatch positions are excluded; a dispatch top accepts every byte, so
// no per-token work is needed there.
func (c *CompiledGrammar) classifyPositions() error {
	m := newMachine(c.g, c.dispatch)
	table := compressor.NewRowTable()
	for i := 0; i < c.g.NumRules(); i++ {
		r := c.g.Rule(grammar.RuleID(i))
		body := c.g.Expr(r.BodyExprID)
		if body.Type != grammar.ExprTypeChoices {
			continue
		}
		for _, alt := range body.Data {
			altExpr := c.g.Expr(grammar.ExprID(alt))
			if altExpr.Type != grammar.ExprTypeSequence {
				continue
			}
			for idx, sub := range altExpr.Data {
				elem := c.g.Expr(grammar.ExprID(sub))
				var offsets int
				switch elem.Type {
				case grammar.ExprTypeByteString:
					offsets = elem.Len()
				case grammar.ExprTypeCharacterClass, grammar.ExprTypeCharacterClassStar:
					offsets = 1
				default:
					continue
				}
				for off := 0; off < offsets; off++ {
					pos := position{
						seqID:        grammar.ExprID(alt),
						elemIdx:      int32(idx),
						elemInString: int32(off),
					}
					if _, ok := c.rowOf[pos]; ok {
						continue
					}
					if err := c.classifyPosition(m, grammar.RuleID(i), pos, table); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (c *CompiledGrammar) classifyPosition(m *machine, ruleID grammar.RuleID, pos position, table *compressor.RowTable) error {
	w := newWave()
	m.pushExpand(stackElement{
		ruleID:       ruleID,
		seqID:        pos.seqID,
		elemIdx:      pos.elemIdx,
		elemInString: pos.elemInString,
		parent:       nilIndex,
	}, w)
	if w.err != nil {
		return w.err
	}
	var accepted, rejected, uncertain []int32
	for id := int32(0); id < int32(c.vocab.Size()); id++ {
		if c.vocab.IsStop(id) {
			continue
		}
		ok, sawComplete, err := m.simulate(w.tops, c.vocab.Token(id))
		if err != nil {
			m.arena.releaseAll(w.tops)
			return err
		}
		switch {
		case ok:
			accepted = append(accepted, id)
		case sawComplete || w.rootCompleted:
			uncertain = append(uncertain, id)
		default:
			rejected = append(rejected, id)
		}
	}
	m.arena.releaseAll(w.tops)

	row := maskRow{uncertain: uncertain}
	if len(rejected) < len(accepted) {
		row.storeRejected = true
		row.tokens = rejected
	} else {
		row.tokens = accepted
	}
	enc := make([]int32, 0, len(row.tokens)+len(row.uncertain)+2)
	flag := int32(0)
	if row.storeRejected {
		flag = 1
	}
	enc = append(enc, flag, int32(len(row.tokens)))
	enc = append(enc, row.tokens...)
	enc = append(enc, row.uncertain...)
	num := table.Intern(enc)
	if num == len(c.rows) {
		c.rows = append(c.rows, row)
	}
	c.rowOf[pos] = int32(num)
	return nil
}

func setBit(mask []uint32, id int32) {
	mask[id>>5] |= 1 << uint(id&31)
}

func clearBit(mask []uint32, id int32) {
	mask[id>>5] &^= 1 << uint(id&31)
}

func testBit(mask []uint32, id int32) bool {
	return mask[id>>5]&(1<<uint(id&31)) != 0
}
