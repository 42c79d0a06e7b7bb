package pipeline

// Each latch is a tagged bubble/valid variant: bubble carries no
// in-flight instruction and downstream stages must never read its
// payload fields when bubble is set.

type ifidLatch struct {
	bubble bool
	ir     uint32 // fetched instruction word
	pc     uint32 // this instruction's own PC
	npc    uint32 // PC + 4
	addr   uint32 // program address (== pc), used to look up decode info
	raw    string
}

type idexLatch struct {
	bubble bool
	ir     uint32
	a, b   uint32
	imm    uint32
	npc    uint32
	addr   uint32
	raw    string
	opcode string

	rd, rs1, rs2 int // -1 if not applicable
	aluOp        string
	aluSrcB      aluSrcB
	memRead      bool
	memWrite     bool
	branch       bool
	regWrite     bool
}

type exmemLatch struct {
	bubble      bool
	ir          uint32
	aluOutput   uint32
	b           uint32 // store data
	cond        bool
	branchTaken bool
	rd          int
	addr        uint32
	raw         string

	memRead  bool
	memWrite bool
	regWrite bool
}

type memwbLatch struct {
	bubble    bool
	ir        uint32
	lmd       uint32
	aluOutput uint32
	rd        int
	addr      uint32
	raw       string

	regWrite  bool
	memToReg  bool
}
